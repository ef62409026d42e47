package source_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"callpipe/internal/source"
)

func TestParseCSVWithHeader(t *testing.T) {
	input := "agent,contact_id,queue\nsam,101,sales\nkim,102,support\n,,\nsam,101,sales\n"
	ids, err := source.Parse(context.Background(), strings.NewReader(input), "contact_id")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fmt.Sprint(ids) != "[101 102]" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestParsePlainList(t *testing.T) {
	input := "693159199085\n\n479367298239\n693159199085\n"
	ids, err := source.Parse(context.Background(), strings.NewReader(input), "contact_id")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fmt.Sprint(ids) != "[693159199085 479367298239]" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestParseHeaderWithByteOrderMark(t *testing.T) {
	input := "\ufeffContact_ID\n7\n"
	ids, err := source.Parse(context.Background(), strings.NewReader(input), "contact_id")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fmt.Sprint(ids) != "[7]" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestFileFeedReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.csv")
	if err := os.WriteFile(path, []byte("contact_id\n1\n2\n"), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	ids, err := source.NewFileFeed(path, "").IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if fmt.Sprint(ids) != "[1 2]" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestFileFeedMissingFile(t *testing.T) {
	if _, err := source.NewFileFeed(filepath.Join(t.TempDir(), "absent.csv"), "").IDs(context.Background()); err == nil {
		t.Fatal("expected error for missing feed")
	}
}

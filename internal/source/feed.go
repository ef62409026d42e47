// Package source reads the universe of work item identifiers.
package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Feed yields the ids a run considers.
type Feed interface {
	IDs(ctx context.Context) ([]string, error)
}

// FileFeed reads ids from a local file. A first line containing the id column
// name is treated as a CSV header; any other file is read as one id per line
// (extra comma-separated columns are ignored).
type FileFeed struct {
	Path     string
	IDColumn string
}

// NewFileFeed builds a FileFeed; idColumn defaults to contact_id.
func NewFileFeed(path, idColumn string) *FileFeed {
	idColumn = strings.TrimSpace(idColumn)
	if idColumn == "" {
		idColumn = "contact_id"
	}
	return &FileFeed{Path: path, IDColumn: idColumn}
}

// IDs returns the distinct non-blank ids in file order.
func (f *FileFeed) IDs(ctx context.Context) ([]string, error) {
	if strings.TrimSpace(f.Path) == "" {
		return nil, errors.New("source feed path is not configured")
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open source feed: %w", err)
	}
	defer file.Close()
	return Parse(ctx, file, f.IDColumn)
}

// Parse reads ids from r using the same rules as FileFeed.
func Parse(ctx context.Context, r io.Reader, idColumn string) ([]string, error) {
	buffered := bufio.NewReader(r)
	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	column := 0
	seen := make(map[string]struct{})
	var ids []string
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse source feed: %w", err)
		}
		if first {
			first = false
			if idx := headerIndex(row, idColumn); idx >= 0 {
				column = idx
				continue
			}
		}
		if column >= len(row) {
			continue
		}
		id := strings.TrimSpace(strings.TrimPrefix(row[column], "\ufeff"))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func headerIndex(row []string, idColumn string) int {
	for i, cell := range row {
		name := strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
		if strings.EqualFold(name, idColumn) {
			return i
		}
	}
	return -1
}

// StaticFeed is a fixed id list, used for explicit ids on the command line.
type StaticFeed []string

// IDs returns the list unchanged.
func (s StaticFeed) IDs(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

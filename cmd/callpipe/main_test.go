package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"callpipe/internal/records"
	"callpipe/internal/stage"
	"callpipe/internal/testsupport"
	"callpipe/internal/workflow"
)

func TestRunFetchThenInspect(t *testing.T) {
	env := setupCLITestEnv(t, "A", "B", "C")

	out, _, err := runCLI(t, []string{"--json", "run", "fetch"}, env.configPath)
	if err != nil {
		t.Fatalf("run fetch: %v", err)
	}
	var summary runSummaryJSON
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode run summary %q: %v", out, err)
	}
	if summary.Stage != "fetch" || summary.Pending != 3 || summary.Succeeded != 1 || summary.NotFound != 1 || summary.NoSource != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	out, _, err = runCLI(t, []string{"run", "fetch"}, env.configPath)
	if err != nil {
		t.Fatalf("second run fetch: %v", err)
	}
	requireContains(t, out, "Nothing pending for fetch")

	out, _, err = runCLI(t, []string{"--json", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status statusJSON
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Total != 3 || status.ByStatus["SUCCESS"] != 1 || status.Flags["fetched"] != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status table: %v", err)
	}
	requireContains(t, out, "NOT_FOUND")
	requireContains(t, out, "transcribe")

	out, _, err = runCLI(t, []string{"--json", "status", "--status", "NOT_FOUND,NO_SOURCE"}, env.configPath)
	if err != nil {
		t.Fatalf("status listing: %v", err)
	}
	var listing statusJSON
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("decode status listing: %v", err)
	}
	if len(listing.Records) != 2 {
		t.Fatalf("listed %d records, want 2: %+v", len(listing.Records), listing.Records)
	}
	for _, listed := range listing.Records {
		if listed.ID == "A" || listed.Status == "SUCCESS" {
			t.Fatalf("unexpected listed record %+v", listed)
		}
	}

	out, _, err = runCLI(t, []string{"status", "--status", "NOT_FOUND", "--limit", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("status listing table: %v", err)
	}
	requireContains(t, out, "Detail")
	requireContains(t, out, "B")
	if _, _, err := runCLI(t, []string{"status", "--status", "LOST"}, env.configPath); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}

	out, _, err = runCLI(t, []string{"show", "A"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "== Item A ==")
	requireContains(t, out, "file://")
	requireContains(t, out, "voice-only")

	out, _, err = runCLI(t, []string{"--json", "show", "C"}, env.configPath)
	if err != nil {
		t.Fatalf("show json: %v", err)
	}
	var record recordJSON
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Status != "NO_SOURCE" || record.Flags["fetched"] {
		t.Fatalf("unexpected record %+v", record)
	}

	if _, _, err := runCLI(t, []string{"show", "missing"}, env.configPath); err == nil || !strings.Contains(err.Error(), "no status record") {
		t.Fatalf("expected missing record error, got %v", err)
	}
}

func TestResetCommands(t *testing.T) {
	env := setupCLITestEnv(t, "A", "B")
	if _, _, err := runCLI(t, []string{"run", "fetch"}, env.configPath); err != nil {
		t.Fatalf("run fetch: %v", err)
	}

	if _, _, err := runCLI(t, []string{"reset", "fetch"}, env.configPath); err == nil {
		t.Fatal("expected reset fetch without a selector to fail")
	}
	out, _, err := runCLI(t, []string{"reset", "fetch", "--status", "NOT_FOUND"}, env.configPath)
	if err != nil {
		t.Fatalf("reset fetch: %v", err)
	}
	requireContains(t, out, "Reset 1 item(s) for fetch")

	out, _, err = runCLI(t, []string{"--json", "run", "fetch"}, env.configPath)
	if err != nil {
		t.Fatalf("rerun fetch: %v", err)
	}
	var summary runSummaryJSON
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Pending != 1 || summary.NotFound != 1 {
		t.Fatalf("reset item should be fetched again, got %+v", summary)
	}

	if _, _, err := runCLI(t, []string{"reset", "transcribe"}, env.configPath); err == nil {
		t.Fatal("expected reset transcribe without ids or --all to fail")
	}
	if _, _, err := runCLI(t, []string{"reset", "classify", "--failed"}, env.configPath); err == nil {
		t.Fatal("expected --failed to be rejected for classify")
	}

	store := testsupport.MustOpenStore(t, env.cfg)
	patch := records.Patch{
		Flags:      map[records.Flag]bool{records.FlagTranscribed: true},
		Transcript: records.Ptr("hello"),
		Transcribe: &records.StageOutcome{Status: records.StatusSuccess},
	}
	if err := store.Update(context.Background(), "A", patch); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}
	out, _, err = runCLI(t, []string{"reset", "transcribe", "A"}, env.configPath)
	if err != nil {
		t.Fatalf("reset transcribe: %v", err)
	}
	requireContains(t, out, "Reset 1 item(s) for transcribe")
	record, err := store.Get(context.Background(), "A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Has(records.FlagTranscribed) || record.Transcript != "" {
		t.Fatalf("transcript should be cleared: %#v", record)
	}
	if !record.Has(records.FlagFetched) {
		t.Fatalf("fetch outcome must survive a transcribe reset")
	}
}

func TestResetRefusesWhileStageRuns(t *testing.T) {
	env := setupCLITestEnv(t, "A")
	if _, _, err := runCLI(t, []string{"run", "fetch"}, env.configPath); err != nil {
		t.Fatalf("run fetch: %v", err)
	}

	release, err := workflow.LockStages(env.cfg, stage.Classify)
	if err != nil {
		t.Fatalf("LockStages: %v", err)
	}
	if _, _, err := runCLI(t, []string{"reset", "transcribe", "--all"}, env.configPath); !errors.Is(err, workflow.ErrStageLocked) {
		t.Fatalf("expected reset to be refused while classify runs, got %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	out, _, err := runCLI(t, []string{"reset", "transcribe", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("reset after release: %v", err)
	}
	requireContains(t, out, "item(s) for transcribe")
}

func TestRunRejectsUnknownStage(t *testing.T) {
	env := setupCLITestEnv(t, "A")
	_, _, err := runCLI(t, []string{"run", "upload"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown stage") {
		t.Fatalf("expected unknown stage error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"run", "fetch", "--limit", "-1"}, env.configPath); err == nil {
		t.Fatal("expected negative limit to fail")
	}
}

func TestHealthReportsEachStage(t *testing.T) {
	env := setupCLITestEnv(t, "A")
	env.cfg.Deepgram.APIKey = ""
	writeTestConfig(t, env.configPath, env.cfg)
	t.Setenv("DEEPGRAM_API_KEY", "")

	out, _, err := runCLI(t, []string{"--json", "health"}, env.configPath)
	if err == nil {
		t.Fatal("expected health to fail without a deepgram key")
	}
	var checks []healthJSON
	if err := json.Unmarshal([]byte(out), &checks); err != nil {
		t.Fatalf("decode health %q: %v", out, err)
	}
	byName := map[string]healthJSON{}
	for _, check := range checks {
		byName[check.Name] = check
	}
	if !byName["store"].Ready || !byName["fetch"].Ready {
		t.Fatalf("store and fetch should be ready: %+v", checks)
	}
	if byName["transcribe"].Ready {
		t.Fatalf("transcribe should not be ready: %+v", byName["transcribe"])
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, "A")

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "fetch:")

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse an existing file")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestTableAndStatusRendering(t *testing.T) {
	rendered := renderTable([]string{"Status", "Records"}, [][]string{{"SUCCESS", "3"}, {"FAILED"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, rendered, "SUCCESS")
	requireContains(t, rendered, "╭")
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}

	line := renderStatusLine("store", statusOK, "ready", false)
	if line != "  store:           [OK] ready" {
		t.Fatalf("unexpected status line %q", line)
	}
	colored := renderStatusLine("store", statusError, "", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red status line, got %q", colored)
	}
	if shouldColorize(&strings.Builder{}) {
		t.Fatal("non-file writers should not be colorized")
	}
	if got := preview(strings.Repeat("x", previewLimit+10)); len(got) != previewLimit+3 {
		t.Fatalf("preview length = %d", len(got))
	}
}

package stageexec_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"callpipe/internal/records"
	"callpipe/internal/services"
	"callpipe/internal/stage"
	"callpipe/internal/stageexec"
	"callpipe/internal/testsupport"
)

type stubHandler struct {
	id      stage.ID
	outcome stage.Outcome
	err     error
	before  func()
}

func (h *stubHandler) Stage() stage.ID { return h.id }

func (h *stubHandler) Process(context.Context, string) (stage.Outcome, error) {
	if h.before != nil {
		h.before()
	}
	return h.outcome, h.err
}

type flakyWriter struct {
	failures int32
	calls    atomic.Int32
	inner    stageexec.Writer
}

func (w *flakyWriter) Upsert(ctx context.Context, id string, patch records.Patch) error {
	if w.calls.Add(1) <= w.failures {
		return errors.New("database is locked")
	}
	return w.inner.Upsert(ctx, id, patch)
}

func (w *flakyWriter) Update(ctx context.Context, id string, patch records.Patch) error {
	if w.calls.Add(1) <= w.failures {
		return errors.New("database is locked")
	}
	return w.inner.Update(ctx, id, patch)
}

func TestRunPersistsFetchSuccess(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	handler := &stubHandler{id: stage.Fetch, outcome: stage.Succeeded(records.Patch{
		ArtifactLocation: records.Ptr("file:///objects/1.mp3"),
	})}

	result, err := stageexec.Run(context.Background(), stageexec.Options{Store: store, Handler: handler, ItemID: "1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Unresolved || result.Status != records.StatusSuccess {
		t.Fatalf("unexpected result %#v", result)
	}
	record, err := store.Get(context.Background(), "1")
	if err != nil || record == nil {
		t.Fatalf("Get: %v %#v", err, record)
	}
	if !record.Has(records.FlagFetched) || record.ArtifactLocation != "file:///objects/1.mp3" {
		t.Fatalf("unexpected record %#v", record)
	}
}

func TestRunRetriesStatusWrite(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	writer := &flakyWriter{failures: 2, inner: store}
	handler := &stubHandler{id: stage.Fetch, outcome: stage.NotFound("404")}

	result, err := stageexec.Run(context.Background(), stageexec.Options{
		Store: writer, Handler: handler, ItemID: "2",
		WriteAttempts: 3, WriteBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Unresolved {
		t.Fatalf("expected write to land, got %#v", result)
	}
	if writer.calls.Load() != 3 {
		t.Fatalf("write calls = %d, want 3", writer.calls.Load())
	}
	record, _ := store.Get(context.Background(), "2")
	if record == nil || record.Status != records.StatusNotFound {
		t.Fatalf("unexpected record %#v", record)
	}
}

func TestRunReportsUnresolvedWhenWriteNeverLands(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	writer := &flakyWriter{failures: 100, inner: store}
	handler := &stubHandler{id: stage.Fetch, outcome: stage.Succeeded(records.Patch{})}

	result, err := stageexec.Run(context.Background(), stageexec.Options{
		Store: writer, Handler: handler, ItemID: "3",
		WriteAttempts: 2, WriteBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Unresolved {
		t.Fatalf("expected unresolved result, got %#v", result)
	}
	if record, _ := store.Get(context.Background(), "3"); record != nil {
		t.Fatalf("expected no record, got %#v", record)
	}
}

func TestRunLaterStageUpdateOnly(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	handler := &stubHandler{id: stage.Transcribe, outcome: stage.Succeeded(records.Patch{Transcript: records.Ptr("Agent: hi")})}

	result, err := stageexec.Run(context.Background(), stageexec.Options{
		Store: store, Handler: handler, ItemID: "never-fetched", WriteBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Unresolved {
		t.Fatalf("expected unresolved result for missing record, got %#v", result)
	}
	if record, _ := store.Get(context.Background(), "never-fetched"); record != nil {
		t.Fatal("later stages must never create records")
	}
}

func TestRunLaterStageFailureKeepsFetchColumns(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.SeedFetched(t, store, "4")
	handler := &stubHandler{id: stage.Transcribe, outcome: stage.Failed("empty transcript")}

	if _, err := stageexec.Run(context.Background(), stageexec.Options{Store: store, Handler: handler, ItemID: "4"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	record, _ := store.Get(context.Background(), "4")
	if record.Status != records.StatusSuccess || !record.Has(records.FlagFetched) {
		t.Fatalf("fetch columns changed: %#v", record)
	}
	if record.Has(records.FlagTranscribed) || record.Transcribe.Status != records.StatusFailed {
		t.Fatalf("unexpected transcribe outcome %#v", record.Transcribe)
	}
}

func TestRunFatalErrorWritesNothing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	handler := &stubHandler{id: stage.Fetch, err: services.ErrAuth}

	_, err := stageexec.Run(context.Background(), stageexec.Options{Store: store, Handler: handler, ItemID: "5"})
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if record, _ := store.Get(context.Background(), "5"); record != nil {
		t.Fatal("fatal errors must not write a record")
	}
}

func TestRunCancelledMidItemWritesNothing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	handler := &stubHandler{id: stage.Fetch, outcome: stage.Failed("interrupted"), before: cancel}

	result, err := stageexec.Run(ctx, stageexec.Options{Store: store, Handler: handler, ItemID: "6"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Unresolved {
		t.Fatalf("expected unresolved result, got %#v", result)
	}
	if record, _ := store.Get(context.Background(), "6"); record != nil {
		t.Fatal("cancelled items must not be recorded")
	}
}

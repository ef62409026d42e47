package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gofrs/flock"

	"callpipe/internal/config"
	"callpipe/internal/records"
	"callpipe/internal/services"
	"callpipe/internal/session"
	"callpipe/internal/source"
	"callpipe/internal/stage"
	"callpipe/internal/testsupport"
	"callpipe/internal/workflow"
)

func newManager(t *testing.T, api *fakeServices, ids ...string) (*workflow.Manager, *records.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithServiceURL(api.server.URL), testsupport.WithFeed(ids...))
	cfg.Executor.MaxAttempts = 3
	store := testsupport.MustOpenStore(t, cfg)
	feed := source.NewFileFeed(cfg.Source.Path, cfg.Source.IDColumn)
	manager := workflow.NewManager(cfg, store, feed, workflow.DefaultStages(cfg, store, nil), nil)
	return manager, store, cfg
}

func TestFetchRunRecordsEachOutcome(t *testing.T) {
	api := newFakeServices(t)
	api.addRecording("A", "audio-a")
	api.missing["B"] = true
	api.addRecording("C", "audio-c")
	api.brokenFile["C"] = true
	manager, store, _ := newManager(t, api, "A", "B", "C")
	ctx := context.Background()

	summary, err := manager.Run(ctx, stage.Fetch, workflow.RunOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Pending != 3 || summary.Succeeded != 1 || summary.NotFound != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.RunID == "" {
		t.Fatalf("expected run id")
	}

	a, _ := store.Get(ctx, "A")
	if a == nil || a.Status != records.StatusSuccess || a.ArtifactLocation == "" || !a.Has(records.FlagFetched) {
		t.Fatalf("unexpected record A %#v", a)
	}
	b, _ := store.Get(ctx, "B")
	if b == nil || b.Status != records.StatusNotFound || b.ArtifactLocation != "" {
		t.Fatalf("unexpected record B %#v", b)
	}
	c, _ := store.Get(ctx, "C")
	if c == nil || c.Status != records.StatusFailed || !strings.Contains(c.RawResponse, "502") {
		t.Fatalf("unexpected record C %#v", c)
	}
	if got := api.downloads.Load(); got != 4 {
		t.Fatalf("downloads = %d, want 1 for A and 3 attempts for C", got)
	}

	again, err := manager.Run(ctx, stage.Fetch, workflow.RunOptions{})
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if again.Pending != 0 || again.Processed != 0 {
		t.Fatalf("second run should process nothing, got %+v", again)
	}
}

func TestStagesRunInSequence(t *testing.T) {
	api := newFakeServices(t)
	api.addRecording("A", "audio-a")
	api.addRecording("B", "audio-b")
	manager, store, _ := newManager(t, api, "A", "B", "missing")
	ctx := context.Background()

	for _, id := range stage.All() {
		if _, err := manager.Run(ctx, id, workflow.RunOptions{}); err != nil {
			t.Fatalf("Run %s returned error: %v", id, err)
		}
	}
	if api.listenCalls.Load() != 2 || api.classifyCalls.Load() != 2 {
		t.Fatalf("listen=%d classify=%d, want 2 each", api.listenCalls.Load(), api.classifyCalls.Load())
	}
	for _, id := range []string{"A", "B"} {
		record, _ := store.Get(ctx, id)
		for _, flag := range records.AllFlags() {
			if !record.Has(flag) {
				t.Fatalf("%s missing flag %s: %v", id, flag, record.Flags)
			}
		}
		if !strings.HasPrefix(record.DiarizedTranscript, "Agent: thanks for calling\nCustomer:") {
			t.Fatalf("%s conversation = %q", id, record.DiarizedTranscript)
		}
		if record.ClassificationModel == "" || record.Summary == "" {
			t.Fatalf("%s missing classification or summary", id)
		}
	}
	missing, _ := store.Get(ctx, "missing")
	if missing.Has(records.FlagTranscribed) || missing.Transcribe.Status != "" {
		t.Fatalf("NOT_FOUND item must not reach later stages: %#v", missing)
	}

	// Everything is complete, so every stage is a no-op now.
	for _, id := range stage.All() {
		summary, err := manager.Run(ctx, id, workflow.RunOptions{})
		if err != nil || summary.Pending != 0 {
			t.Fatalf("rerun %s: %+v, %v", id, summary, err)
		}
	}
}

func TestRunRejectsBadItemCap(t *testing.T) {
	api := newFakeServices(t)
	api.addRecording("A", "audio-a")
	manager, store, cfg := newManager(t, api, "A")
	cfg.Run.ItemCap = "lots"

	_, err := manager.Run(context.Background(), stage.Fetch, workflow.RunOptions{})
	if !errors.Is(err, services.ErrConfiguration) || !strings.Contains(err.Error(), "run.item_cap") {
		t.Fatalf("expected item cap configuration error, got %v", err)
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 0 || api.downloads.Load() != 0 {
		t.Fatalf("nothing may be processed with a bad item cap: total=%d downloads=%d", stats.Total, api.downloads.Load())
	}
	if _, err := manager.Run(context.Background(), stage.Fetch, workflow.RunOptions{Limit: 1}); err != nil {
		t.Fatalf("an explicit limit overrides the configured cap: %v", err)
	}
}

func TestRunHonoursItemLimit(t *testing.T) {
	api := newFakeServices(t)
	ids := []string{"A", "B", "C", "D", "E"}
	for _, id := range ids {
		api.addRecording(id, "audio-"+id)
	}
	manager, store, _ := newManager(t, api, ids...)
	ctx := context.Background()

	first, err := manager.Run(ctx, stage.Fetch, workflow.RunOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if first.Pending != 2 || first.Succeeded != 2 {
		t.Fatalf("unexpected summary %+v", first)
	}
	for _, id := range []string{"A", "B"} {
		if record, _ := store.Get(ctx, id); record == nil {
			t.Fatalf("expected %s processed first", id)
		}
	}
	second, err := manager.Run(ctx, stage.Fetch, workflow.RunOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if second.Pending != 3 {
		t.Fatalf("second run pending = %d, want 3", second.Pending)
	}
}

func TestAuthFailureStopsRun(t *testing.T) {
	api := newFakeServices(t)
	api.addRecording("A", "audio-a")
	api.authStatus = 401
	manager, store, _ := newManager(t, api, "A", "B")

	_, err := manager.Run(context.Background(), stage.Fetch, workflow.RunOptions{})
	if !errors.Is(err, session.ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("no record may be written on auth failure, got %d", stats.Total)
	}
}

func TestRunRefusesWhenStageLocked(t *testing.T) {
	api := newFakeServices(t)
	manager, _, cfg := newManager(t, api, "A")

	holder := flock.New(cfg.StageLockPath("fetch"))
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("ensure data dir: %v", err)
	}
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock: %v %v", locked, err)
	}
	defer holder.Unlock()

	if _, err := manager.Run(context.Background(), stage.Fetch, workflow.RunOptions{}); !errors.Is(err, workflow.ErrStageLocked) {
		t.Fatalf("expected ErrStageLocked, got %v", err)
	}
	// Another stage has its own lock.
	if _, err := manager.Run(context.Background(), stage.Transcribe, workflow.RunOptions{}); err != nil {
		t.Fatalf("transcribe run should not be blocked: %v", err)
	}
}

func TestLockStagesBlocksRunsUntilReleased(t *testing.T) {
	api := newFakeServices(t)
	manager, _, cfg := newManager(t, api, "A")

	release, err := workflow.LockStages(cfg, stage.Transcribe.Downstream()...)
	if err != nil {
		t.Fatalf("LockStages: %v", err)
	}
	if _, err := manager.Run(context.Background(), stage.Classify, workflow.RunOptions{}); !errors.Is(err, workflow.ErrStageLocked) {
		t.Fatalf("classify run should be locked out, got %v", err)
	}
	if _, err := manager.Run(context.Background(), stage.Fetch, workflow.RunOptions{}); err != nil {
		t.Fatalf("fetch run should not be blocked: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := manager.Run(context.Background(), stage.Classify, workflow.RunOptions{}); err != nil {
		t.Fatalf("classify run after release: %v", err)
	}
}

func TestLockStagesReleasesPartialLocks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("ensure data dir: %v", err)
	}
	holder := flock.New(cfg.StageLockPath("classify"))
	if locked, err := holder.TryLock(); err != nil || !locked {
		t.Fatalf("TryLock: %v %v", locked, err)
	}
	defer holder.Unlock()

	if _, err := workflow.LockStages(cfg, stage.Fetch.Downstream()...); !errors.Is(err, workflow.ErrStageLocked) {
		t.Fatalf("expected ErrStageLocked, got %v", err)
	}
	release, err := workflow.LockStages(cfg, stage.Fetch, stage.Transcribe)
	if err != nil {
		t.Fatalf("fetch and transcribe locks should have been released: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

type countingHandler struct {
	processed *atomic.Int32
	failEvery int
}

func (h *countingHandler) Stage() stage.ID { return stage.Fetch }

func (h *countingHandler) Process(_ context.Context, id string) (stage.Outcome, error) {
	n := h.processed.Add(1)
	if h.failEvery > 0 && int(n)%h.failEvery == 0 {
		return stage.Failed("synthetic failure for " + id), nil
	}
	return stage.Succeeded(records.Patch{ArtifactLocation: records.Ptr("file:///objects/" + id)}), nil
}

type funcHandler func(context.Context, string) (stage.Outcome, error)

func (f funcHandler) Stage() stage.ID { return stage.Fetch }

func (f funcHandler) Process(ctx context.Context, id string) (stage.Outcome, error) {
	return f(ctx, id)
}

func TestWorkerPoolBuildsHandlerPerWorker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%02d", i)
	}

	var processed atomic.Int32
	var mu sync.Mutex
	built := 0
	stages := workflow.StageSet{
		stage.Fetch: func(context.Context, *slog.Logger) (stage.Handler, error) {
			mu.Lock()
			built++
			mu.Unlock()
			return &countingHandler{processed: &processed, failEvery: 5}, nil
		},
	}
	manager := workflow.NewManager(cfg, store, source.StaticFeed(ids), stages, nil)

	summary, err := manager.Run(context.Background(), stage.Fetch, workflow.RunOptions{Workers: 4})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if built != 4 {
		t.Fatalf("handlers built = %d, want 4", built)
	}
	if summary.Processed != 20 || summary.Succeeded != 16 || summary.Failed != 4 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	stats, _ := store.Stats(context.Background())
	if stats.Total != 20 {
		t.Fatalf("records = %d, want 20", stats.Total)
	}
}

func TestRunWithoutHandlerFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := workflow.NewManager(cfg, store, source.StaticFeed{"A"}, workflow.StageSet{}, nil)
	if _, err := manager.Run(context.Background(), stage.Classify, workflow.RunOptions{}); err == nil {
		t.Fatal("expected error for unregistered stage")
	}
}

func TestCancelledRunLeavesItemsPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	var processed atomic.Int32
	stages := workflow.StageSet{
		stage.Fetch: func(context.Context, *slog.Logger) (stage.Handler, error) {
			return funcHandler(func(_ context.Context, id string) (stage.Outcome, error) {
				if processed.Add(1) == 2 {
					cancel()
				}
				return stage.Succeeded(records.Patch{}), nil
			}), nil
		},
	}
	manager := workflow.NewManager(cfg, store, source.StaticFeed{"A", "B", "C"}, stages, nil)

	summary, err := manager.Run(ctx, stage.Fetch, workflow.RunOptions{Workers: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Succeeded != 1 || summary.Unresolved != 1 || processed.Load() != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	for _, id := range []string{"B", "C"} {
		if record, _ := store.Get(context.Background(), id); record != nil {
			t.Fatalf("%s must stay pending after the interruption", id)
		}
	}
}

func TestHealthReportsMissingCredentials(t *testing.T) {
	api := newFakeServices(t)
	manager, _, cfg := newManager(t, api, "A")
	cfg.Deepgram.APIKey = ""

	results := manager.Health(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected three stage health results, got %d", len(results))
	}
	byName := map[string]stage.Health{}
	for _, h := range results {
		byName[h.Name] = h
	}
	if !byName["fetch"].Ready {
		t.Fatalf("fetch should be healthy: %#v", byName["fetch"])
	}
	if transcribe := byName["transcribe"]; transcribe.Ready || !strings.Contains(transcribe.Detail, "deepgram.api_key") {
		t.Fatalf("transcribe should report the missing key: %#v", transcribe)
	}
}

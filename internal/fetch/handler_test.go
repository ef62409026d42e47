package fetch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/fetch"
	"callpipe/internal/objectstore"
	"callpipe/internal/records"
	"callpipe/internal/services/cxone"
	"callpipe/internal/session"
	"callpipe/internal/stage"
	"callpipe/internal/testsupport"
)

// fakeCXone serves the auth, media playback and file endpoints.
type fakeCXone struct {
	t            *testing.T
	server       *httptest.Server
	authCalls    atomic.Int32
	metaCalls    atomic.Int32
	unauthorized atomic.Int32 // metadata calls to reject with 401 before succeeding
	authStatus   int
	metaStatus   map[string]int
	interactions map[string]string // contact id -> interactions JSON
	files        map[string]string // file name -> body
	fileStatus   map[string]int
}

func newFakeCXone(t *testing.T) *fakeCXone {
	t.Helper()
	f := &fakeCXone{
		t:            t,
		metaStatus:   map[string]int{},
		interactions: map[string]string{},
		files:        map[string]string{},
		fileStatus:   map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.authCalls.Add(1)
		if f.authStatus != 0 {
			http.Error(w, "denied", f.authStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"bearer","expires_in":3600}`, n)
	})
	mux.HandleFunc("/media-playback/v1/contacts", func(w http.ResponseWriter, r *http.Request) {
		f.metaCalls.Add(1)
		if f.unauthorized.Load() > 0 {
			f.unauthorized.Add(-1)
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		id := r.URL.Query().Get("acd-call-id")
		if status, ok := f.metaStatus[id]; ok {
			http.Error(w, "unavailable", status)
			return
		}
		interactions, ok := f.interactions[id]
		if !ok {
			interactions = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"contactId":%q,"interactions":%s}`, id, interactions)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/files/")
		if status, ok := f.fileStatus[name]; ok {
			http.Error(w, "missing", status)
			return
		}
		_, _ = w.Write([]byte(f.files[name]))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCXone) recording(id, file, body, duration string) {
	fileURL := f.server.URL + "/files/" + file
	f.interactions[id] = fmt.Sprintf(`[{"mediaType":"voice-only","data":{"fileToPlayUrl":%q,"duration":%s}}]`, fileURL, duration)
	f.files[file] = body
}

type harness struct {
	cfg     *config.Config
	api     *fakeCXone
	handler *fetch.Handler
	objects *objectstore.FileStore
}

func newHarness(t *testing.T, api *fakeCXone) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithServiceURL(api.server.URL))
	cfg.Executor.MaxAttempts = 2

	client := cxone.NewClient(cxone.Config{
		AuthURL:      cfg.CXone.AuthURL,
		BaseURL:      cfg.CXone.BaseURL,
		Username:     cfg.CXone.Username,
		Password:     cfg.CXone.Password,
		ClientID:     cfg.CXone.ClientID,
		ClientSecret: cfg.CXone.ClientSecret,
	})
	execs, err := fetch.NewExecutors(cfg, nil)
	if err != nil {
		t.Fatalf("NewExecutors failed: %v", err)
	}
	sessions, err := session.NewManager(fetch.RetryingAuthenticator(client, execs.Metadata), time.Minute)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	objects, err := objectstore.NewFileStore(cfg.ObjectStore.Root)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	handler, err := fetch.NewHandler(cfg, fetch.Dependencies{
		API:       client,
		Sessions:  sessions,
		Objects:   objects,
		Executors: execs,
		Now:       func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return &harness{cfg: cfg, api: api, handler: handler, objects: objects}
}

func TestProcessStoresRecording(t *testing.T) {
	api := newFakeCXone(t)
	api.recording("C1", "c1.MP3", "audio-bytes", `"00:01:05"`)
	h := newHarness(t, api)

	out, err := h.handler.Process(context.Background(), "C1")
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Status != records.StatusSuccess {
		t.Fatalf("status = %s (%s)", out.Status, out.Detail)
	}
	if out.Patch.ArtifactLocation == nil || *out.Patch.MediaType != "voice-only" {
		t.Fatalf("unexpected patch %#v", out.Patch)
	}
	uri, err := url.Parse(*out.Patch.ArtifactLocation)
	if err != nil || uri.Scheme != "file" {
		t.Fatalf("artifact location %q: %v", *out.Patch.ArtifactLocation, err)
	}
	want := filepath.Join(h.cfg.ObjectStore.Root, "recordings", "2026-03-04", "C1_voice-only.mp3")
	if uri.Path != want {
		t.Fatalf("artifact path = %q, want %q", uri.Path, want)
	}
	data, err := os.ReadFile(uri.Path)
	if err != nil || string(data) != "audio-bytes" {
		t.Fatalf("stored artifact = %q, %v", data, err)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(*out.Patch.RawResponse), &raw); err != nil || raw["contactId"] != "C1" {
		t.Fatalf("raw response not kept: %v", err)
	}
	entries, _ := os.ReadDir(h.cfg.Paths.StagingDir)
	if len(entries) != 0 {
		t.Fatalf("staging dir not cleaned: %v", entries)
	}
	patch := out.Compose(stage.Fetch)
	if !patch.Flags[records.FlagFetched] {
		t.Fatalf("expected fetched flag in composed patch")
	}
}

func TestProcessOutcomes(t *testing.T) {
	cases := []struct {
		name  string
		setup func(api *fakeCXone)
		want  records.Status
	}{
		{
			name:  "metadata 404",
			setup: func(api *fakeCXone) { api.metaStatus["C1"] = http.StatusNotFound },
			want:  records.StatusNotFound,
		},
		{
			name:  "no interactions",
			setup: func(api *fakeCXone) {},
			want:  records.StatusNoSource,
		},
		{
			name:  "zero duration",
			setup: func(api *fakeCXone) { api.recording("C1", "c1.mp3", "audio", "0") },
			want:  records.StatusNoSource,
		},
		{
			name: "download 404",
			setup: func(api *fakeCXone) {
				api.recording("C1", "c1.mp3", "audio", "12.5")
				api.fileStatus["c1.mp3"] = http.StatusNotFound
			},
			want: records.StatusNoSource,
		},
		{
			name:  "empty download",
			setup: func(api *fakeCXone) { api.recording("C1", "c1.mp3", "", "12.5") },
			want:  records.StatusNoSource,
		},
		{
			name:  "metadata keeps failing",
			setup: func(api *fakeCXone) { api.metaStatus["C1"] = http.StatusServiceUnavailable },
			want:  records.StatusFailed,
		},
		{
			name: "download forbidden",
			setup: func(api *fakeCXone) {
				api.recording("C1", "c1.mp3", "audio", "12.5")
				api.fileStatus["c1.mp3"] = http.StatusForbidden
			},
			want: records.StatusFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeCXone(t)
			tc.setup(api)
			h := newHarness(t, api)

			out, err := h.handler.Process(context.Background(), "C1")
			if err != nil {
				t.Fatalf("Process returned error: %v", err)
			}
			if out.Status != tc.want {
				t.Fatalf("status = %s, want %s (%s)", out.Status, tc.want, out.Detail)
			}
			if tc.want != records.StatusSuccess && out.Patch.ArtifactLocation != nil {
				t.Fatalf("unexpected artifact for %s", tc.want)
			}
		})
	}
}

func TestProcessFailureDetailBecomesRawResponse(t *testing.T) {
	api := newFakeCXone(t)
	api.metaStatus["C1"] = http.StatusBadGateway
	h := newHarness(t, api)

	out, err := h.handler.Process(context.Background(), "C1")
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if got := api.metaCalls.Load(); got != 2 {
		t.Fatalf("metadata calls = %d, want 2", got)
	}
	patch := out.Compose(stage.Fetch)
	if patch.RawResponse == nil || !strings.Contains(*patch.RawResponse, "failed after 2 attempts") {
		t.Fatalf("raw response = %v", patch.RawResponse)
	}
}

func TestProcessRefreshesSessionOnUnauthorized(t *testing.T) {
	api := newFakeCXone(t)
	api.recording("C1", "c1.mp3", "audio", "30")
	api.unauthorized.Store(1)
	h := newHarness(t, api)

	out, err := h.handler.Process(context.Background(), "C1")
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Status != records.StatusSuccess {
		t.Fatalf("status = %s (%s)", out.Status, out.Detail)
	}
	if got := api.authCalls.Load(); got != 2 {
		t.Fatalf("auth calls = %d, want 2", got)
	}
}

func TestProcessAuthFailureIsFatal(t *testing.T) {
	api := newFakeCXone(t)
	api.authStatus = http.StatusUnauthorized
	h := newHarness(t, api)

	_, err := h.handler.Process(context.Background(), "C1")
	if !errors.Is(err, session.ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if api.metaCalls.Load() != 0 {
		t.Fatalf("metadata must not be requested without a credential")
	}
}

func TestHealthCheck(t *testing.T) {
	api := newFakeCXone(t)
	h := newHarness(t, api)
	if health := h.handler.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %#v", health)
	}

	failing := newFakeCXone(t)
	failing.authStatus = http.StatusForbidden
	h = newHarness(t, failing)
	if health := h.handler.HealthCheck(context.Background()); health.Ready {
		t.Fatalf("expected unhealthy when auth fails")
	}
}

package workflow_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const listenResponse = `{"results":{
  "channels":[
    {"alternatives":[{"transcript":"thanks for calling","words":[{"word":"thanks","start":0.1},{"word":"for","start":0.2},{"word":"calling","start":0.3}]}]},
    {"alternatives":[{"transcript":"i need a chain","words":[{"word":"i","start":1.0},{"word":"need","start":1.1},{"word":"a","start":1.2},{"word":"chain","start":1.3}]}]}
  ],
  "summary":{"short":"Customer wants a chain."}
}}`

const classificationPayload = `{"classification_version":"v1.0","call_type":["product_enquiry"],"sale_result":"sale_intended",
"product_family":"chainsaw_related","agent_name":null,"escalation_actions":["none"],
"confidence_scores":{"call_type_confidence":0.9,"sale_result_confidence":0.8,"product_classification_confidence":0.9,"overall_confidence":0.88}}`

// fakeServices emulates the recording, transcription and classification APIs.
type fakeServices struct {
	server *httptest.Server

	mu         sync.Mutex
	recordings map[string]string // contact id -> audio body
	missing    map[string]bool   // contact ids the metadata API does not know
	brokenFile map[string]bool   // contact ids whose download always fails

	authStatus    int
	authCalls     atomic.Int32
	downloads     atomic.Int32
	listenCalls   atomic.Int32
	classifyCalls atomic.Int32
}

func newFakeServices(t *testing.T) *fakeServices {
	t.Helper()
	f := &fakeServices{
		recordings: map[string]string{},
		missing:    map[string]bool{},
		brokenFile: map[string]bool{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, _ *http.Request) {
		f.authCalls.Add(1)
		if f.authStatus != 0 {
			http.Error(w, "invalid_grant", f.authStatus)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/media-playback/v1/contacts", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("acd-call-id")
		f.mu.Lock()
		missing := f.missing[id]
		_, known := f.recordings[id]
		f.mu.Unlock()
		if missing || !known {
			http.Error(w, "contact not found", http.StatusNotFound)
			return
		}
		fileURL := f.server.URL + "/files/" + id + ".mp3"
		fmt.Fprintf(w, `{"interactions":[{"mediaType":"voice-only","data":{"fileToPlayUrl":%q,"duration":"42"}}]}`, fileURL)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		f.downloads.Add(1)
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/files/"), ".mp3")
		f.mu.Lock()
		broken := f.brokenFile[id]
		body := f.recordings[id]
		f.mu.Unlock()
		if broken {
			http.Error(w, "storage backend unavailable", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/v1/listen", func(w http.ResponseWriter, _ *http.Request) {
		f.listenCalls.Add(1)
		_, _ = w.Write([]byte(listenResponse))
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		f.classifyCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": classificationPayload}}},
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServices) addRecording(id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings[id] = body
}

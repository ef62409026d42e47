package testsupport

import (
	"context"
	"testing"

	"callpipe/internal/config"
	"callpipe/internal/records"
)

// MustOpenStore opens a records.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *records.Store {
	t.Helper()

	store, err := records.Open(cfg)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedFetched writes a successful fetch record for each id.
func SeedFetched(t testing.TB, store *records.Store, ids ...string) {
	t.Helper()

	for _, id := range ids {
		err := store.Upsert(context.Background(), id, records.Patch{
			Status:           records.Ptr(records.StatusSuccess),
			ArtifactLocation: records.Ptr("file:///tmp/" + id + ".mp3"),
			MediaType:        records.Ptr("audio/mpeg"),
			Flags:            map[records.Flag]bool{records.FlagFetched: true},
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

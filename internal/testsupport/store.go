package testsupport

import (
	"context"
	"testing"

	"github.com/Zipties/voicestack2/internal/config"
	"github.com/Zipties/voicestack2/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewJob creates a queued job for tests using the provided store.
func NewJob(t testing.TB, st *store.Store, sourcePath string) *store.Job {
	t.Helper()

	job, err := st.NewJob(context.Background(), sourcePath, nil)
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}

package testsupport

import (
	"context"
	"testing"

	"reel/internal/config"
	"reel/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AddItem inserts a new pending work item for tests using the provided store.
func AddItem(t testing.TB, store *queue.Store, source string, ops ...queue.Operation) *queue.Item {
	t.Helper()

	if len(ops) == 0 {
		ops = []queue.Operation{queue.OpDownload}
	}
	item, err := store.Add(context.Background(), source, "", ops)
	if err != nil {
		t.Fatalf("store.Add: %v", err)
	}
	return item
}

package testsupport

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"transcoder/internal/config"
	"transcoder/internal/queue"
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

// MustClaim enqueues and claims a job, failing the test on error.
func MustClaim(t testing.TB, store *queue.Store, assetID, variantKey string) queue.Token {
	t.Helper()

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, assetID, variantKey, queue.Options{}); err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	token, err := store.Claim(ctx, assetID, variantKey)
	if err != nil {
		t.Fatalf("store.Claim: %v", err)
	}
	return token
}

// Package testutil provides shared test helpers for setting up databases,
// thread services and recording directories.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/threadnote/internal/live"
	"github.com/starford/threadnote/internal/storage"
	"github.com/starford/threadnote/internal/store"
	"github.com/starford/threadnote/internal/threadsync"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T, opts ...store.Option) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "threadnote-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestService creates a thread service over a temporary database wired to a
// live broker. Background enrichments are drained before cleanup.
func TestService(t *testing.T, opts ...threadsync.Option) (*threadsync.Service, *store.DB) {
	t.Helper()
	broker := live.NewBroker()
	db := TestDB(t, store.WithNotifier(broker))

	svc := threadsync.New(db, broker, opts...)
	// Registered after TestDB so it runs before the database is closed.
	t.Cleanup(func() {
		svc.Close()
		broker.Close()
	})
	return svc, db
}

// TestRecordings creates a temporary recordings directory.
func TestRecordings(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, blobs
}

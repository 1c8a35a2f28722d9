package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keyforge/internal/store"
)

// NewTestStore opens a file-backed SQLite store in a temporary directory.
// A file is used rather than :memory: so that every pooled connection sees
// the same database. The store is closed when the test ends.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "keys.db")
	st, err := store.Open(store.Config{
		Driver: store.DriverSQLite,
		DSN:    dsn,
	})
	require.NoError(t, err, "failed to open test store")

	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// ValidKey returns an unbound key expiring 30 days from now
func ValidKey(value string) *store.Key {
	return &store.Key{
		KeyValue:   value,
		ExpiryDate: time.Now().UTC().AddDate(0, 0, 30),
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  "test",
	}
}

// BoundKey returns a key already bound to the given device
func BoundKey(value, hwid string) *store.Key {
	k := ValidKey(value)
	k.HWID = &hwid
	k.Used = true
	return k
}

// ExpiredKey returns a key whose expiry passed ten days ago
func ExpiredKey(value string) *store.Key {
	k := ValidKey(value)
	k.ExpiryDate = time.Now().UTC().AddDate(0, 0, -10)
	return k
}

// SeedKeys inserts the given keys, failing the test on any error
func SeedKeys(t *testing.T, st *store.Store, keys ...*store.Key) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, st.Insert(context.Background(), k), "failed to seed key %s", k.KeyValue)
	}
}

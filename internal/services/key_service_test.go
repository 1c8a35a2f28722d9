package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyforge/internal/shared/testutil"
	"keyforge/internal/store"
)

func newTestKeyService(t *testing.T) (*keyService, *store.Store) {
	t.Helper()

	st := testutil.NewTestStore(t)
	logger, _ := testutil.NewTestLogger(t)
	svc := NewKeyService(st, logger, nil).(*keyService)
	return svc, st
}

func TestCreateKey(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	key, err := svc.CreateKey(ctx, 30, "admin")
	require.NoError(t, err)

	assert.Len(t, key.KeyValue, 8)
	for _, r := range key.KeyValue {
		assert.Contains(t, keyCharset, string(r))
	}
	assert.Equal(t, "admin", key.CreatedBy)
	assert.Equal(t, issued.AddDate(0, 0, 30), key.ExpiryDate)
	assert.False(t, key.Used)
	assert.Nil(t, key.HWID)
	assert.False(t, key.IsExpired)

	stored, err := st.GetByValue(ctx, key.KeyValue)
	require.NoError(t, err)
	assert.Equal(t, key.KeyValue, stored.KeyValue)
}

func TestCreateKey_DefaultCreatedBy(t *testing.T) {
	svc, _ := newTestKeyService(t)

	key, err := svc.CreateKey(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, "api", key.CreatedBy)
}

func TestCreateKey_DaysOutOfRange(t *testing.T) {
	svc, _ := newTestKeyService(t)
	ctx := context.Background()

	for _, days := range []int{0, -1, 366} {
		t.Run(fmt.Sprintf("days=%d", days), func(t *testing.T) {
			_, err := svc.CreateKey(ctx, days, "")
			require.Error(t, err)
			assert.Equal(t, KindInvalidArgument, KindOf(err))
		})
	}
}

func TestCreateKey_RetriesOnCollision(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()

	testutil.SeedKeys(t, st, testutil.ValidKey("TAKEN001"))

	// First attempt collides with the seeded key, second succeeds.
	values := []string{"TAKEN001", "FRESH001"}
	svc.generate = func() (string, error) {
		v := values[0]
		values = values[1:]
		return v, nil
	}

	key, err := svc.CreateKey(ctx, 30, "")
	require.NoError(t, err)
	assert.Equal(t, "FRESH001", key.KeyValue)
}

func TestCreateKey_GenerationExhausted(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()

	testutil.SeedKeys(t, st, testutil.ValidKey("TAKEN001"))

	// Every attempt collides.
	svc.generate = func() (string, error) { return "TAKEN001", nil }

	_, err := svc.CreateKey(ctx, 30, "")
	require.Error(t, err)
	assert.Equal(t, KindGenerationExhausted, KindOf(err))
}

func TestListKeys(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	active := testutil.ValidKey("ACTIVE01")
	active.CreatedAt = now.Add(-time.Hour)
	expired := testutil.ExpiredKey("EXPIRE01")
	expired.CreatedAt = now
	testutil.SeedKeys(t, st, active, expired)

	keys, err := svc.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	// Newest first, is_expired computed at read time.
	assert.Equal(t, "EXPIRE01", keys[0].KeyValue)
	assert.True(t, keys[0].IsExpired)
	assert.Equal(t, "ACTIVE01", keys[1].KeyValue)
	assert.False(t, keys[1].IsExpired)
}

func TestValidateKey_NotFound(t *testing.T) {
	svc, _ := newTestKeyService(t)

	outcome, err := svc.ValidateKey(context.Background(), "MISSING1", "device-a")
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, ReasonNotFound, outcome.Reason)
	assert.Nil(t, outcome.Key)
}

func TestValidateKey_Expired(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()

	testutil.SeedKeys(t, st, testutil.ExpiredKey("EXPIRE01"))

	outcome, err := svc.ValidateKey(ctx, "EXPIRE01", "device-a")
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, ReasonExpired, outcome.Reason)

	// Expiry is checked before binding, so the key stays unbound.
	stored, err := st.GetByValue(ctx, "EXPIRE01")
	require.NoError(t, err)
	assert.Nil(t, stored.HWID)
	assert.False(t, stored.Used)
}

func TestValidateKey_FirstUseBinding(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()

	testutil.SeedKeys(t, st, testutil.ValidKey("BINDME01"))

	outcome, err := svc.ValidateKey(ctx, "BINDME01", "device-a")
	require.NoError(t, err)
	assert.True(t, outcome.Valid)
	assert.Equal(t, ReasonBoundNow, outcome.Reason)
	require.NotNil(t, outcome.Key)
	require.NotNil(t, outcome.Key.HWID)
	assert.Equal(t, "device-a", *outcome.Key.HWID)
	assert.True(t, outcome.Key.Used)

	// Same device again: matches the existing binding.
	outcome, err = svc.ValidateKey(ctx, "BINDME01", "device-a")
	require.NoError(t, err)
	assert.True(t, outcome.Valid)
	assert.Equal(t, ReasonMatchesBinding, outcome.Reason)

	// Different device: rejected, binding unchanged.
	outcome, err = svc.ValidateKey(ctx, "BINDME01", "device-b")
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, ReasonDeviceMismatch, outcome.Reason)
	assert.Nil(t, outcome.Key)

	stored, err := st.GetByValue(ctx, "BINDME01")
	require.NoError(t, err)
	require.NotNil(t, stored.HWID)
	assert.Equal(t, "device-a", *stored.HWID)
}

func TestValidateKey_BindingRaceLoser(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()

	testutil.SeedKeys(t, st, testutil.ValidKey("RACED001"))

	// Simulate losing the binding race: between this request's read and its
	// conditional update, another request binds the key.
	raced := false
	svc.now = func() time.Time {
		if !raced {
			raced = true
			won, err := st.BindHWID(ctx, "RACED001", "device-other")
			require.NoError(t, err)
			require.True(t, won)
		}
		return time.Now()
	}

	outcome, err := svc.ValidateKey(ctx, "RACED001", "device-a")
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, ReasonDeviceMismatch, outcome.Reason)
}

func TestValidateKey_DeletedDuringBindingRace(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()

	testutil.SeedKeys(t, st, testutil.ValidKey("GONE0001"))

	// Delete the key between the initial read and the conditional update, so
	// the binding misses and the re-read finds nothing.
	raced := false
	svc.now = func() time.Time {
		if !raced {
			raced = true
			found, err := st.DeleteByValue(ctx, "GONE0001")
			require.NoError(t, err)
			require.True(t, found)
		}
		return time.Now()
	}

	outcome, err := svc.ValidateKey(ctx, "GONE0001", "device-a")
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, ReasonNotFound, outcome.Reason)
}

func TestValidateKey_MissingArguments(t *testing.T) {
	svc, _ := newTestKeyService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		hwid string
	}{
		{name: "empty key", key: "", hwid: "device-a"},
		{name: "empty hwid", key: "SOMEKEY1", hwid: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateKey(ctx, tt.key, tt.hwid)
			require.Error(t, err)
			assert.Equal(t, KindInvalidArgument, KindOf(err))
		})
	}
}

func TestDeleteKeys(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()
	testutil.SeedKeys(t, st,
		testutil.ValidKey("KEEPME01"),
		testutil.ValidKey("DELETE01"),
		testutil.ValidKey("DELETE02"))

	result, err := svc.DeleteKeys(ctx, []string{"DELETE01", " DELETE02 ", "MISSING1"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, 3, result.TotalRequested)
	assert.Equal(t, []string{"MISSING1"}, result.NotFound)

	// The untouched key survives.
	_, err = st.GetByValue(ctx, "KEEPME01")
	assert.NoError(t, err)
}

func TestDeleteKeys_RollsBackOnMidBatchFailure(t *testing.T) {
	db, err := store.Connect(store.Config{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "keys.db"),
	})
	require.NoError(t, err)
	st := store.NewWithDB(db)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { _ = st.Close() })

	logger, _ := testutil.NewTestLogger(t)
	svc := NewKeyService(st, logger, nil).(*keyService)
	ctx := context.Background()

	testutil.SeedKeys(t, st,
		testutil.ValidKey("DELETE01"),
		testutil.ValidKey("POISON01"))

	// Make the second deletion of the batch fail after the first succeeded.
	require.NoError(t, db.Exec(`CREATE TRIGGER abort_poison_delete
		BEFORE DELETE ON keys
		WHEN OLD.key_value = 'POISON01'
		BEGIN SELECT RAISE(ABORT, 'delete aborted'); END`).Error)

	_, err = svc.DeleteKeys(ctx, []string{"DELETE01", "POISON01"})
	require.Error(t, err)
	assert.Equal(t, KindStoreFailure, KindOf(err))

	// A failed batch commits nothing; both keys survive.
	_, err = st.GetByValue(ctx, "DELETE01")
	assert.NoError(t, err)
	_, err = st.GetByValue(ctx, "POISON01")
	assert.NoError(t, err)
}

func TestDeleteKeys_EmptyList(t *testing.T) {
	svc, _ := newTestKeyService(t)

	_, err := svc.DeleteKeys(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestDeleteKeys_NoneFound(t *testing.T) {
	svc, _ := newTestKeyService(t)

	result, err := svc.DeleteKeys(context.Background(), []string{"MISSING1", "MISSING2"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.DeletedCount)
	assert.Equal(t, []string{"MISSING1", "MISSING2"}, result.NotFound)
}

func TestDeleteKey(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()

	testutil.SeedKeys(t, st, testutil.ValidKey("DELETE01"))

	require.NoError(t, svc.DeleteKey(ctx, "DELETE01"))

	err := svc.DeleteKey(ctx, "DELETE01")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStats(t *testing.T) {
	svc, st := newTestKeyService(t)
	ctx := context.Background()
	testutil.SeedKeys(t, st,
		testutil.ValidKey("ACTIVE01"),
		testutil.BoundKey("ACTIVE02", "device-a"),
		testutil.ExpiredKey("EXPIRE01"))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalKeys)
	assert.Equal(t, int64(2), stats.ActiveKeys)
	assert.Equal(t, int64(1), stats.UsedKeys)
	assert.Equal(t, int64(1), stats.ExpiredKeys)
	assert.Equal(t, int64(2), stats.UnusedKeys)
	assert.Equal(t, stats.TotalKeys, stats.ActiveKeys+stats.ExpiredKeys)
	assert.Equal(t, stats.TotalKeys, stats.UsedKeys+stats.UnusedKeys)
}

func TestStats_Empty(t *testing.T) {
	svc, _ := newTestKeyService(t)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalKeys)
	assert.Equal(t, int64(0), stats.UnusedKeys)
}

func TestGenerateKeyValue(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		value, err := generateKeyValue()
		require.NoError(t, err)
		assert.Len(t, value, keyLength)
		for _, r := range value {
			assert.Contains(t, keyCharset, string(r))
		}
		seen[value] = true
	}
	// 100 draws from a 36^8 space must not all collide.
	assert.Greater(t, len(seen), 90)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore opens a file-backed SQLite store in a temp directory. A file
// is used rather than :memory: so every pooled connection sees one database.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "keys.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newKey(value string, expiry time.Time) *Key {
	return &Key{
		KeyValue:   value,
		ExpiryDate: expiry,
		CreatedBy:  "test",
	}
}

func TestStore_InsertAndGetByValue(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	expiry := time.Now().UTC().AddDate(0, 0, 30).Truncate(time.Second)

	err := st.Insert(ctx, newKey("AAAA1111", expiry))
	require.NoError(t, err)

	got, err := st.GetByValue(ctx, "AAAA1111")
	require.NoError(t, err)
	assert.Equal(t, "AAAA1111", got.KeyValue)
	assert.Equal(t, "test", got.CreatedBy)
	assert.Nil(t, got.HWID)
	assert.False(t, got.Used)
	assert.NotZero(t, got.ID)
	assert.WithinDuration(t, expiry, got.ExpiryDate, time.Second)
}

func TestStore_InsertDuplicate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	expiry := time.Now().UTC().AddDate(0, 0, 30)

	require.NoError(t, st.Insert(ctx, newKey("DUPE0001", expiry)))

	err := st.Insert(ctx, newKey("DUPE0001", expiry))
	assert.ErrorIs(t, err, ErrDuplicateKeyValue)
}

func TestStore_GetByValueNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetByValue(context.Background(), "MISSING1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, value := range []string{"OLDEST01", "MIDDLE02", "NEWEST03"} {
		k := newKey(value, base.AddDate(0, 0, 30))
		k.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.Insert(ctx, k))
	}

	keys, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "NEWEST03", keys[0].KeyValue)
	assert.Equal(t, "MIDDLE02", keys[1].KeyValue)
	assert.Equal(t, "OLDEST01", keys[2].KeyValue)
}

func TestStore_ListEmpty(t *testing.T) {
	st := openTestStore(t)

	keys, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_DeleteByValue(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, newKey("DELETE01", time.Now().UTC().AddDate(0, 0, 30))))

	found, err := st.DeleteByValue(ctx, "DELETE01")
	require.NoError(t, err)
	assert.True(t, found)

	_, err = st.GetByValue(ctx, "DELETE01")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	found, err = st.DeleteByValue(ctx, "DELETE01")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_DeleteBatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	expiry := time.Now().UTC().AddDate(0, 0, 30)

	for _, value := range []string{"KEEPME01", "DELETE01", "DELETE02"} {
		require.NoError(t, st.Insert(ctx, newKey(value, expiry)))
	}

	found, err := st.DeleteBatch(ctx, []string{"DELETE01", "MISSING1", "DELETE02"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, found)

	_, err = st.GetByValue(ctx, "KEEPME01")
	assert.NoError(t, err)
	_, err = st.GetByValue(ctx, "DELETE01")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStore_DeleteBatchRollsBackOnFailure(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	expiry := time.Now().UTC().AddDate(0, 0, 30)

	require.NoError(t, st.Insert(ctx, newKey("DELETE01", expiry)))
	require.NoError(t, st.Insert(ctx, newKey("POISON01", expiry)))

	// Make the second statement of the batch fail after the first succeeded.
	require.NoError(t, st.db.Exec(`CREATE TRIGGER abort_poison_delete
		BEFORE DELETE ON keys
		WHEN OLD.key_value = 'POISON01'
		BEGIN SELECT RAISE(ABORT, 'delete aborted'); END`).Error)

	_, err := st.DeleteBatch(ctx, []string{"DELETE01", "POISON01"})
	require.Error(t, err)

	// The whole batch rolled back; the first deletion never committed.
	_, err = st.GetByValue(ctx, "DELETE01")
	assert.NoError(t, err)
	_, err = st.GetByValue(ctx, "POISON01")
	assert.NoError(t, err)
}

func TestStore_BindHWID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, newKey("BINDME01", time.Now().UTC().AddDate(0, 0, 30))))

	bound, err := st.BindHWID(ctx, "BINDME01", "device-a")
	require.NoError(t, err)
	assert.True(t, bound)

	got, err := st.GetByValue(ctx, "BINDME01")
	require.NoError(t, err)
	require.NotNil(t, got.HWID)
	assert.Equal(t, "device-a", *got.HWID)
	assert.True(t, got.Used)

	// A second bind attempt loses the compare-and-set and changes nothing.
	bound, err = st.BindHWID(ctx, "BINDME01", "device-b")
	require.NoError(t, err)
	assert.False(t, bound)

	got, err = st.GetByValue(ctx, "BINDME01")
	require.NoError(t, err)
	require.NotNil(t, got.HWID)
	assert.Equal(t, "device-a", *got.HWID)
}

func TestStore_BindHWIDMissingKey(t *testing.T) {
	st := openTestStore(t)

	bound, err := st.BindHWID(context.Background(), "MISSING1", "device-a")
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestStore_Counts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	active := newKey("ACTIVE01", now.AddDate(0, 0, 30))
	activeUsed := newKey("ACTIVE02", now.AddDate(0, 0, 15))
	hwid := "device-a"
	activeUsed.HWID = &hwid
	activeUsed.Used = true
	expired := newKey("EXPIRE01", now.AddDate(0, 0, -5))

	for _, k := range []*Key{active, activeUsed, expired} {
		require.NoError(t, st.Insert(ctx, k))
	}

	c, err := st.Counts(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Total)
	assert.Equal(t, int64(2), c.Active)
	assert.Equal(t, int64(1), c.Used)
	assert.Equal(t, int64(1), c.Expired)
	assert.Equal(t, c.Total, c.Active+c.Expired, "active and expired must partition the total")
}

func TestStore_CountsEmpty(t *testing.T) {
	st := openTestStore(t)

	c, err := st.Counts(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, Counts{}, c)
}

func TestKey_IsExpired(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		expiry  time.Time
		expired bool
	}{
		{name: "future expiry", expiry: now.Add(time.Hour), expired: false},
		{name: "past expiry", expiry: now.Add(-time.Hour), expired: true},
		{name: "expiry exactly now", expiry: now, expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &Key{ExpiryDate: tt.expiry}
			assert.Equal(t, tt.expired, k.IsExpired(now))
		})
	}
}

func TestStore_Ping(t *testing.T) {
	st := openTestStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

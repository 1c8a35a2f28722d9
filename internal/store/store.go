// Package store persists license key records in a relational database via
// GORM. It is the only stateful component of the service: a single `keys`
// table with a uniqueness constraint on key_value. Every operation is one
// statement or one transaction: first-use HWID binding is a conditional
// UPDATE so concurrent bindings cannot clobber each other, and batch
// deletion runs inside a single transaction so a failed batch commits
// nothing.
package store

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// ErrKeyNotFound is returned by lookups that miss.
	ErrKeyNotFound = errors.New("key not found")
	// ErrDuplicateKeyValue is returned when an insert collides with an
	// existing key_value.
	ErrDuplicateKeyValue = errors.New("duplicate key value")
)

// Key is the persisted license key record. HWID stays NULL until the first
// successful validation binds the key to a device; Used flips to true in the
// same write and neither field changes afterwards.
type Key struct {
	ID         uint      `gorm:"primaryKey"`
	KeyValue   string    `gorm:"size:20;uniqueIndex;not null"`
	ExpiryDate time.Time `gorm:"not null"`
	CreatedAt  time.Time
	HWID       *string `gorm:"column:hwid;size:100"`
	Used       bool    `gorm:"not null;default:false"`
	CreatedBy  string  `gorm:"size:50;not null;default:system"`
}

// TableName sets the table name for GORM
func (Key) TableName() string { return "keys" }

// IsExpired reports whether the key is expired at the given instant.
// A key expiring exactly now counts as expired.
func (k *Key) IsExpired(now time.Time) bool {
	return !k.ExpiryDate.After(now)
}

// Counts holds the aggregate counters over all key records.
type Counts struct {
	Total   int64
	Active  int64
	Used    int64
	Expired int64
}

// Store provides access to the keys table.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. The caller is responsible for
// migration; used by tests with an in-memory SQLite database.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the keys table.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Key{})
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert persists a new key record. A key_value collision is reported as
// ErrDuplicateKeyValue so the caller's generation loop can retry; the
// uniqueness constraint is the arbiter, not a pre-check.
func (s *Store) Insert(ctx context.Context, key *Key) error {
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKeyValue
		}
		return err
	}
	return nil
}

// GetByValue looks a key up by its key_value.
func (s *Store) GetByValue(ctx context.Context, keyValue string) (*Key, error) {
	var key Key
	err := s.db.WithContext(ctx).Where("key_value = ?", keyValue).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

// List returns all keys ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]Key, error) {
	var keys []Key
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&keys).Error
	return keys, err
}

// DeleteByValue removes the key with the given key_value. It reports whether
// a record was actually deleted so batch callers can track misses without
// treating them as errors.
func (s *Store) DeleteByValue(ctx context.Context, keyValue string) (bool, error) {
	res := s.db.WithContext(ctx).Where("key_value = ?", keyValue).Delete(&Key{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteBatch removes the given key_values inside one transaction. The
// returned slice parallels the input and reports which values existed; any
// statement failure rolls back the entire batch, so partial deletions are
// never committed.
func (s *Store) DeleteBatch(ctx context.Context, keyValues []string) ([]bool, error) {
	found := make([]bool, len(keyValues))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, keyValue := range keyValues {
			res := tx.Where("key_value = ?", keyValue).Delete(&Key{})
			if res.Error != nil {
				return res.Error
			}
			found[i] = res.RowsAffected > 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// BindHWID performs the first-use binding as a compare-and-set: the update
// only applies while hwid is still NULL at write time. It reports whether
// this call won the binding; false with a nil error means another request
// bound the key first and the caller must re-read.
func (s *Store) BindHWID(ctx context.Context, keyValue, hwid string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Key{}).
		Where("key_value = ? AND hwid IS NULL", keyValue).
		Updates(map[string]any{"hwid": hwid, "used": true})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Counts runs the aggregate counters. The four counts are independent reads,
// so they fan out concurrently; the expiry boundary uses the same instant for
// the active and expired predicates so the two always partition the total.
func (s *Store) Counts(ctx context.Context, now time.Time) (Counts, error) {
	var c Counts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&Key{}).Count(&c.Total).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&Key{}).
			Where("expiry_date > ?", now).Count(&c.Active).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&Key{}).
			Where("used = ?", true).Count(&c.Used).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&Key{}).
			Where("expiry_date <= ?", now).Count(&c.Expired).Error
	})
	if err := g.Wait(); err != nil {
		return Counts{}, err
	}
	return c, nil
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"keyforge/internal/infrastructure"
	"keyforge/internal/store"
	"keyforge/pkg/contracts/domain"
)

// ValidationReason identifies why a validation attempt succeeded or failed.
type ValidationReason string

const (
	// ReasonNotFound means no key exists with the given value.
	ReasonNotFound ValidationReason = "not_found"
	// ReasonExpired means the key's expiry date has passed.
	ReasonExpired ValidationReason = "expired"
	// ReasonBoundNow means this validation bound the key to the device.
	ReasonBoundNow ValidationReason = "bound_now"
	// ReasonMatchesBinding means the key was already bound to this device.
	ReasonMatchesBinding ValidationReason = "matches_binding"
	// ReasonDeviceMismatch means the key is bound to a different device.
	ReasonDeviceMismatch ValidationReason = "device_mismatch"
)

// Message returns the operator-facing description of the reason.
func (r ValidationReason) Message() string {
	switch r {
	case ReasonNotFound:
		return "key not found"
	case ReasonExpired:
		return "key expired"
	case ReasonBoundNow:
		return "key valid, device registered"
	case ReasonMatchesBinding:
		return "key valid for this device"
	case ReasonDeviceMismatch:
		return "key already in use by another device"
	default:
		return string(r)
	}
}

// ValidationOutcome is the result of a validation attempt. A failed lookup is
// an outcome, not an error; only store failures surface as errors.
type ValidationOutcome struct {
	Valid  bool
	Reason ValidationReason
	Key    *domain.Key
}

// BatchDeleteResult reports the result of a batch deletion. Partial success
// is the normal case: keys that were not found are listed, not errored.
type BatchDeleteResult struct {
	DeletedCount   int
	TotalRequested int
	NotFound       []string
}

// KeyService provides the license key lifecycle: issuance, listing,
// validation with first-use device binding, deletion, and aggregate stats.
type KeyService interface {
	CreateKey(ctx context.Context, days int, createdBy string) (*domain.Key, error)
	ListKeys(ctx context.Context) ([]domain.Key, error)
	ValidateKey(ctx context.Context, keyValue, hwid string) (*ValidationOutcome, error)
	DeleteKeys(ctx context.Context, keyValues []string) (*BatchDeleteResult, error)
	DeleteKey(ctx context.Context, keyValue string) error
	Stats(ctx context.Context) (*domain.KeyStats, error)
}

// keyService implements KeyService on top of the relational store.
type keyService struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	// injectable for tests
	now      func() time.Time
	generate func() (string, error)
}

// NewKeyService creates a new key lifecycle service. metrics may be nil.
func NewKeyService(st *store.Store, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &keyService{
		store:    st,
		logger:   logger.With(slog.String("service", "keys")),
		metrics:  metrics,
		now:      time.Now,
		generate: generateKeyValue,
	}
}

// CreateKey issues a new key valid for the given number of days. Generation
// retries on key_value collision against the store's uniqueness constraint,
// not against a pre-check, so two concurrent creates generating the same
// value cannot both commit.
func (s *keyService) CreateKey(ctx context.Context, days int, createdBy string) (*domain.Key, error) {
	if days < 1 || days > 365 {
		return nil, invalidArgument("days must be between 1 and 365")
	}
	if createdBy == "" {
		createdBy = "api"
	}

	now := s.now().UTC()
	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		value, err := s.generate()
		if err != nil {
			return nil, storeFailure("failed to generate key value", err)
		}

		key := &store.Key{
			KeyValue:   value,
			ExpiryDate: now.AddDate(0, 0, days),
			CreatedAt:  now,
			CreatedBy:  createdBy,
		}
		err = s.store.Insert(ctx, key)
		if err == nil {
			s.logger.InfoContext(ctx, "key created",
				slog.String("key_value", value),
				slog.Int("days", days),
				slog.String("created_by", createdBy),
				slog.Int("attempt", attempt),
			)
			s.countKeyIssued(ctx, attempt)
			return toDomainKey(key, now), nil
		}
		if errors.Is(err, store.ErrDuplicateKeyValue) {
			s.logger.WarnContext(ctx, "key value collision, retrying",
				slog.String("key_value", value),
				slog.Int("attempt", attempt),
			)
			continue
		}
		return nil, storeFailure("failed to persist key", err)
	}

	return nil, generationExhausted("failed to generate a unique key value")
}

// ListKeys returns all keys, newest first, with is_expired computed at read
// time against a single instant.
func (s *keyService) ListKeys(ctx context.Context) ([]domain.Key, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, storeFailure("failed to list keys", err)
	}
	now := s.now().UTC()
	keys := make([]domain.Key, 0, len(records))
	for i := range records {
		keys = append(keys, *toDomainKey(&records[i], now))
	}
	return keys, nil
}

// ValidateKey evaluates the validation policy as a strict ordered chain:
// lookup, expiry, first-use binding, binding match. The first-use binding is
// a compare-and-set in the store; if this request loses the race, the record
// is re-read and falls through to the match/mismatch branches.
func (s *keyService) ValidateKey(ctx context.Context, keyValue, hwid string) (*ValidationOutcome, error) {
	if keyValue == "" || hwid == "" {
		return nil, invalidArgument("key and hwid are required")
	}

	outcome, err := s.validate(ctx, keyValue, hwid)
	if err != nil {
		return nil, err
	}

	s.countValidation(ctx, outcome)
	s.logger.InfoContext(ctx, "key validated",
		slog.String("key_value", keyValue),
		slog.Bool("valid", outcome.Valid),
		slog.String("reason", string(outcome.Reason)),
	)
	return outcome, nil
}

func (s *keyService) validate(ctx context.Context, keyValue, hwid string) (*ValidationOutcome, error) {
	key, err := s.store.GetByValue(ctx, keyValue)
	if errors.Is(err, store.ErrKeyNotFound) {
		return &ValidationOutcome{Valid: false, Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, storeFailure("failed to look up key", err)
	}

	now := s.now().UTC()
	if key.IsExpired(now) {
		return &ValidationOutcome{Valid: false, Reason: ReasonExpired}, nil
	}

	if key.HWID == nil {
		bound, err := s.store.BindHWID(ctx, keyValue, hwid)
		if err != nil {
			return nil, storeFailure("failed to bind key", err)
		}
		if bound {
			key.HWID = &hwid
			key.Used = true
			return &ValidationOutcome{
				Valid:  true,
				Reason: ReasonBoundNow,
				Key:    toDomainKey(key, now),
			}, nil
		}
		// Lost the binding race: another request committed first. Re-read
		// and fall through to the match/mismatch branches. The key may also
		// have been deleted in the window, which is the same not-found
		// outcome as a miss on the first lookup.
		key, err = s.store.GetByValue(ctx, keyValue)
		if errors.Is(err, store.ErrKeyNotFound) {
			return &ValidationOutcome{Valid: false, Reason: ReasonNotFound}, nil
		}
		if err != nil {
			return nil, storeFailure("failed to re-read key after binding race", err)
		}
	}

	if key.HWID != nil && *key.HWID == hwid {
		return &ValidationOutcome{
			Valid:  true,
			Reason: ReasonMatchesBinding,
			Key:    toDomainKey(key, now),
		}, nil
	}
	return &ValidationOutcome{Valid: false, Reason: ReasonDeviceMismatch}, nil
}

// DeleteKeys deletes the given key values in one store transaction, trimming
// surrounding whitespace before lookup. Values that do not exist are reported
// in the result, never as an error; an empty input list is the only argument
// failure. A store failure rolls the whole batch back, so the caller never
// observes a partially deleted batch.
func (s *keyService) DeleteKeys(ctx context.Context, keyValues []string) (*BatchDeleteResult, error) {
	if len(keyValues) == 0 {
		return nil, invalidArgument("keys list is required")
	}

	trimmed := make([]string, len(keyValues))
	for i, keyValue := range keyValues {
		trimmed[i] = strings.TrimSpace(keyValue)
	}
	found, err := s.store.DeleteBatch(ctx, trimmed)
	if err != nil {
		return nil, storeFailure("failed to delete keys", err)
	}

	result := &BatchDeleteResult{
		TotalRequested: len(keyValues),
		NotFound:       make([]string, 0),
	}
	for i, deleted := range found {
		if deleted {
			result.DeletedCount++
		} else {
			result.NotFound = append(result.NotFound, keyValues[i])
		}
	}

	s.logger.InfoContext(ctx, "keys deleted",
		slog.Int("deleted", result.DeletedCount),
		slog.Int("requested", result.TotalRequested),
		slog.Int("not_found", len(result.NotFound)),
	)
	s.countKeysDeleted(ctx, result.DeletedCount)
	return result, nil
}

// DeleteKey deletes a single key. Unlike the batch form, absence is an
// error here.
func (s *keyService) DeleteKey(ctx context.Context, keyValue string) error {
	if keyValue == "" {
		return invalidArgument("key value is required")
	}
	deleted, err := s.store.DeleteByValue(ctx, keyValue)
	if err != nil {
		return storeFailure("failed to delete key", err)
	}
	if !deleted {
		return notFound("key not found")
	}
	s.logger.InfoContext(ctx, "key deleted", slog.String("key_value", keyValue))
	s.countKeysDeleted(ctx, 1)
	return nil
}

// Stats aggregates key counters from a full scan; nothing is cached, so the
// numbers reflect the store at the moment of the call.
func (s *keyService) Stats(ctx context.Context) (*domain.KeyStats, error) {
	counts, err := s.store.Counts(ctx, s.now().UTC())
	if err != nil {
		return nil, storeFailure("failed to aggregate key stats", err)
	}
	return &domain.KeyStats{
		TotalKeys:   counts.Total,
		ActiveKeys:  counts.Active,
		UsedKeys:    counts.Used,
		ExpiredKeys: counts.Expired,
		UnusedKeys:  counts.Total - counts.Used,
	}, nil
}

func (s *keyService) countKeyIssued(ctx context.Context, attempt int) {
	if s.metrics == nil {
		return
	}
	s.metrics.KeysIssuedTotal.Add(ctx, 1)
	if attempt > 1 {
		s.metrics.KeyGenerationRetries.Add(ctx, int64(attempt-1))
	}
}

func (s *keyService) countValidation(ctx context.Context, outcome *ValidationOutcome) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", string(outcome.Reason)))
	s.metrics.ValidationChecksTotal.Add(ctx, 1, attrs)
	if !outcome.Valid {
		s.metrics.ValidationFailuresTotal.Add(ctx, 1, attrs)
	}
	if outcome.Reason == ReasonBoundNow {
		s.metrics.BindingsTotal.Add(ctx, 1)
	}
}

func (s *keyService) countKeysDeleted(ctx context.Context, n int) {
	if s.metrics == nil || n == 0 {
		return
	}
	s.metrics.KeysDeletedTotal.Add(ctx, int64(n))
}

// toDomainKey converts a stored record to its wire representation,
// computing is_expired at the given instant.
func toDomainKey(k *store.Key, now time.Time) *domain.Key {
	return &domain.Key{
		ID:         k.ID,
		KeyValue:   k.KeyValue,
		ExpiryDate: k.ExpiryDate,
		CreatedAt:  k.CreatedAt,
		HWID:       k.HWID,
		Used:       k.Used,
		CreatedBy:  k.CreatedBy,
		IsExpired:  k.IsExpired(now),
	}
}

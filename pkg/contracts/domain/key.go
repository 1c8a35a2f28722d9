package domain

import "time"

// Key is the wire representation of a license key record. ExpiryDate and
// CreatedAt serialize as RFC 3339 timestamps; HWID is null until the key is
// bound to a device. IsExpired is computed at serialization time, never
// stored, so two reads of the same record may disagree once the expiry
// passes.
type Key struct {
	ID         uint      `json:"id"`
	KeyValue   string    `json:"key_value"`
	ExpiryDate time.Time `json:"expiry_date"`
	CreatedAt  time.Time `json:"created_at"`
	HWID       *string   `json:"hwid"`
	Used       bool      `json:"used"`
	CreatedBy  string    `json:"created_by"`
	IsExpired  bool      `json:"is_expired"`
}

// KeyStats is the aggregate view over all key records. UnusedKeys is always
// TotalKeys - UsedKeys; ActiveKeys + ExpiredKeys is always TotalKeys, with
// keys expiring exactly now counted as expired.
type KeyStats struct {
	TotalKeys   int64 `json:"total_keys"`
	ActiveKeys  int64 `json:"active_keys"`
	UsedKeys    int64 `json:"used_keys"`
	ExpiredKeys int64 `json:"expired_keys"`
	UnusedKeys  int64 `json:"unused_keys"`
}

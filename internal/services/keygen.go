package services

import (
	"crypto/rand"
	"math/big"
)

const (
	// keyCharset is the alphabet for generated key values.
	keyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// keyLength is the length of generated key values.
	keyLength = 8
	// maxGenerationAttempts caps the generate-insert-retry loop when a
	// generated value collides with an existing key.
	maxGenerationAttempts = 10
)

// generateKeyValue returns a random uppercase-alphanumeric key value.
func generateKeyValue() (string, error) {
	charsetLen := big.NewInt(int64(len(keyCharset)))
	buf := make([]byte, keyLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", err
		}
		buf[i] = keyCharset[n.Int64()]
	}
	return string(buf), nil
}

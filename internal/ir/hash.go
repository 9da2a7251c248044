package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with stored hashes.
const (
	DomainProjection = "loom/projection/v1"
)

// HashWithDomain computes SHA-256 over domain + 0x00 + data.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonicalises v and hashes it under domain.
func Hash(domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return HashWithDomain(domain, canonical), nil
}

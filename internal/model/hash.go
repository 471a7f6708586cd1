package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. Version suffix enables future algorithm
// migration.
const (
	DomainRecord   = "deltaview/record/v1"
	DomainChecksum = "deltaview/checksum/v1"
	DomainDelta    = "deltaview/delta/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordDigest computes a content digest of one record.
// Two records with equal fields have equal digests regardless of key order.
func RecordDigest(f Fields) (string, error) {
	canonical, err := MarshalCanonical(f)
	if err != nil {
		return "", fmt.Errorf("RecordDigest: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// DeltaDigest computes a content digest of one delta message.
func DeltaDigest(d Delta) (string, error) {
	canonical, err := EncodeDelta(d)
	if err != nil {
		return "", fmt.Errorf("DeltaDigest: %w", err)
	}
	return hashWithDomain(DomainDelta, canonical), nil
}

// Checksum digests an ordered list of "id:digest" stamps.
// Callers must sort stamps so the checksum is independent of map order.
func Checksum(stamps []string) string {
	// []string always marshals.
	canonical, _ := MarshalCanonical(stamps)
	return hashWithDomain(DomainChecksum, canonical)
}

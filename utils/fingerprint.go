package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a short, stable digest of a ticket identifier.
// Identifiers admit entry to an event, so only fingerprints are written to
// logs, the scan journal and the gate feed.
func Fingerprint(ticketID string) string {
	if ticketID == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(ticketID))
	return hex.EncodeToString(sum[:8])
}

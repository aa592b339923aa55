package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func GenerateCode(n int) (string, error) {
	// Make a slice of nBytes random bytes.
	byt := make([]byte, n)

	// Read into the slice.
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	// Return the hexadecimal string.
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// RequestID returns an identifier for correlating one authority call across
// the gate log and the backend log.
func RequestID() string {
	code, err := GenerateCode(8)
	if err != nil {
		return "gate-0000000000000000"
	}
	return "gate-" + strings.ToLower(code)
}

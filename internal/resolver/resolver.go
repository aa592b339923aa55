// Package resolver extracts a ticket identifier from a decoded QR/barcode
// payload or from operator-typed text.
package resolver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// identifierKeys in order of preference. Older printed tickets carry
// "ticketId" or "id" instead of "ticket_id".
var identifierKeys = []string{"ticket_id", "ticketId", "id"}

// Resolve returns the ticket identifier carried by payload. Structured
// encodings are tried first (JSON object, then base64 CBOR map); anything
// else is taken as a bare identifier. Resolve never fails: an empty result
// means nothing usable was scanned.
func Resolve(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return ""
	}

	if id, ok := fromJSON(trimmed); ok {
		return id
	}
	if id, ok := fromCBOR(trimmed); ok {
		return id
	}

	return trimmed
}

func fromJSON(s string) (string, bool) {
	if !strings.HasPrefix(s, "{") {
		return "", false
	}

	// Numbers stay json.Number so long numeric identifiers keep every digit.
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return "", false
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", false
	}
	return pick(fields)
}

func fromCBOR(s string) (string, bool) {
	raw, ok := decodeBase64(s)
	if !ok || len(raw) == 0 {
		return "", false
	}

	// Major type 5 (map) only; bare identifiers that happen to be valid
	// base64 almost never decode to a CBOR map.
	if raw[0]>>5 != 5 {
		return "", false
	}

	var fields map[string]any
	if err := cbor.Unmarshal(raw, &fields); err != nil {
		return "", false
	}
	return pick(fields)
}

func decodeBase64(s string) ([]byte, bool) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	for _, enc := range encodings {
		if raw, err := enc.DecodeString(s); err == nil {
			return raw, true
		}
	}
	return nil, false
}

func pick(fields map[string]any) (string, bool) {
	for _, key := range identifierKeys {
		value, ok := fields[key]
		if !ok {
			continue
		}

		var id string
		switch v := value.(type) {
		case string:
			id = v
		case float64, int64, uint64, json.Number:
			id = fmt.Sprint(v)
		default:
			continue
		}

		if id = strings.TrimSpace(id); id != "" {
			return id, true
		}
	}
	return "", false
}

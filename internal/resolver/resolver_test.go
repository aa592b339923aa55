package resolver

import (
	"encoding/base64"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected string
	}{
		{"Structured payload", `{"ticket_id":"TKT-100"}`, "TKT-100"},
		{"Structured payload with extra fields", `{"event":"Summer Fest","ticket_id":"TKT-200","qty":2}`, "TKT-200"},
		{"Structured payload padded", "  {\"ticket_id\": \" TKT-300 \"}\n", "TKT-300"},
		{"Legacy camelCase key", `{"ticketId":"TKT-400"}`, "TKT-400"},
		{"Legacy id key", `{"id":"TKT-500"}`, "TKT-500"},
		{"Snake case wins over legacy keys", `{"id":"OLD","ticket_id":"NEW"}`, "NEW"},
		{"Numeric identifier", `{"ticket_id":100}`, "100"},
		{"Long numeric identifier keeps every digit", `{"ticket_id":12345678901234567890}`, "12345678901234567890"},
		{"Trailing data after JSON", `{"ticket_id":"TKT-1"} extra`, `{"ticket_id":"TKT-1"} extra`},
		{"Empty ticket_id falls back to legacy key", `{"ticket_id":"","id":"TKT-600"}`, "TKT-600"},
		{"JSON without identifier", `{"foo":"bar"}`, `{"foo":"bar"}`},
		{"Malformed JSON", `{"ticket_id":`, `{"ticket_id":`},
		{"Bare identifier", "TKT-100", "TKT-100"},
		{"Bare identifier with whitespace", "  TKT-100\r\n", "TKT-100"},
		{"URL payload", "https://tickets.example.com/t/abc", "https://tickets.example.com/t/abc"},
		{"Empty payload", "", ""},
		{"Whitespace payload", "   \t ", ""},
		{"JSON array", `["TKT-1"]`, `["TKT-1"]`},
		{"Null identifier", `{"ticket_id":null}`, `{"ticket_id":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(tt.payload))
		})
	}
}

func TestResolve_CBORPayload(t *testing.T) {
	raw, err := cbor.Marshal(map[string]any{"ticket_id": "TKT-700", "v": 1})
	require.NoError(t, err)

	for name, enc := range map[string]*base64.Encoding{
		"raw url": base64.RawURLEncoding,
		"std":     base64.StdEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, "TKT-700", Resolve(enc.EncodeToString(raw)))
		})
	}
}

func TestResolve_CBORWithoutIdentifier(t *testing.T) {
	raw, err := cbor.Marshal(map[string]any{"seat": "A1"})
	require.NoError(t, err)

	payload := base64.RawURLEncoding.EncodeToString(raw)
	assert.Equal(t, payload, Resolve(payload))
}

func TestResolve_NeverPanics(t *testing.T) {
	payloads := []string{
		"{", "}", "{{}}", `{"ticket_id":{"nested":true}}`, "\x00\xff\xfe", "oWl0aWNrZXRfaWQ",
		"////", "====", `{"ticket_id":[1,2]}`, string([]byte{0xa1, 0x61}),
	}
	for _, p := range payloads {
		assert.NotPanics(t, func() { Resolve(p) }, "payload %q", p)
	}
}

func FuzzResolve(f *testing.F) {
	f.Add(`{"ticket_id":"TKT-100"}`)
	f.Add("TKT-100")
	f.Add("")
	f.Fuzz(func(t *testing.T, payload string) {
		Resolve(payload)
	})
}

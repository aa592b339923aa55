package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GATE_CONFIG_FILE", "")

	cfg := LoadConfig()

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8*time.Second, cfg.AuthorityTimeout)
	assert.Equal(t, 10, cfg.ScanRate)
	assert.Equal(t, 20, cfg.ManualEntryLimit)
	assert.Equal(t, time.Minute, cfg.ManualEntryWindow)
	assert.Equal(t, 0.6, cfg.BreakerFailureRatio)
	assert.True(t, cfg.EnableMetrics)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("GATE_CONFIG_FILE", "")
	t.Setenv("AUTHORITY_BASE_URL", "https://api.example.com/v2")
	t.Setenv("AUTHORITY_TIMEOUT", "3s")
	t.Setenv("SCAN_RATE", "15")
	t.Setenv("ENABLE_METRICS", "false")

	cfg := LoadConfig()

	assert.Equal(t, "https://api.example.com/v2", cfg.AuthorityBaseURL)
	assert.Equal(t, 3*time.Second, cfg.AuthorityTimeout)
	assert.Equal(t, 15, cfg.ScanRate)
	assert.False(t, cfg.EnableMetrics)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("GATE_CONFIG_FILE", "")
	t.Setenv("AUTHORITY_TIMEOUT", "soon")
	t.Setenv("SCAN_RATE", "fast")

	cfg := LoadConfig()

	assert.Equal(t, 8*time.Second, cfg.AuthorityTimeout)
	assert.Equal(t, 10, cfg.ScanRate)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.jsonc")
	content := `{
		// backend behind the seller dashboard
		"AUTHORITY_BASE_URL": "https://file.example.com",
		"SCAN_RATE": 5,
		"ENABLE_METRICS": false,
		"SCANNER_DEVICE": "/dev/ttyACM0", // wedge reader
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("GATE_CONFIG_FILE", path)
	t.Setenv("SCAN_RATE", "12")

	cfg := LoadConfig()

	assert.Equal(t, "https://file.example.com", cfg.AuthorityBaseURL)
	assert.Equal(t, "/dev/ttyACM0", cfg.ScannerDevice)
	assert.False(t, cfg.EnableMetrics)
	// Environment wins over the file.
	assert.Equal(t, 12, cfg.ScanRate)
}

func TestLoadConfig_MissingFileIsIgnored(t *testing.T) {
	t.Setenv("GATE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.jsonc"))

	cfg := LoadConfig()

	assert.Equal(t, "8090", cfg.Port)
}

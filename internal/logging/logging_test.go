package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactsCredentialAttributes(t *testing.T) {
	cases := map[string]bool{
		"etherscan_api_key": true,
		"X-API-Key":         true,
		"moralis_token":     true,
		"db_password":       true,
		"client_secret":     true,
		"wallet":            false,
		"endpoint":          false,
		"records":           false,
	}
	for key, hidden := range cases {
		t.Run(key, func(t *testing.T) {
			var buf bytes.Buffer
			NewWriter(&buf, "debug").Debug("provider call", key, "v4lue-under-test")
			out := buf.String()
			if hidden {
				assert.Contains(t, out, key+"=[redacted]")
				assert.NotContains(t, out, "v4lue-under-test")
			} else {
				assert.Contains(t, out, key+"=v4lue-under-test")
			}
		})
	}
}

func TestRedactsInsideGroups(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "info").Info("explorer", slog.Group("etherscan", "api_key", "abc", "rate", 5))
	assert.Contains(t, buf.String(), "etherscan.api_key=[redacted]")
	assert.Contains(t, buf.String(), "etherscan.rate=5")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" Info ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.NotNil(t, New())
	assert.NotNil(t, NewWithLevel("debug"))
}

func TestLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

package roomsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ROOMSYNC_URL", "ws://localhost:8080/ws")
	t.Setenv("ROOMSYNC_HISTORY_LIMIT", "20")
	t.Setenv("ROOMSYNC_TYPING_DEBOUNCE", "1500ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/ws", cfg.URL)
	require.Equal(t, 20, cfg.HistoryLimit)
	require.Equal(t, 1500*time.Millisecond, cfg.TypingDebounce)
	require.Equal(t, 6*time.Second, cfg.TypingExpiry)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("ROOMSYNC_HISTORY_LIMIT", "0")

	_, err := LoadConfig()
	require.Equal(t, ErrorInvalidConfig, CodeOf(err))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := map[string]func(*Config){
		"expiry shorter than debounce": func(c *Config) { c.TypingExpiry = time.Second },
		"no retry attempts":            func(c *Config) { c.RetryAttempts = 0 },
		"backoff cap below initial":    func(c *Config) { c.RetryMaxBackoff = time.Millisecond },
		"history limit too large":      func(c *Config) { c.HistoryLimit = 501 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.True(t, IsValidationError(cfg.Validate()))
		})
	}

	p := DefaultConfig().Retry()
	require.Equal(t, 3, p.Attempts)
	require.Equal(t, 250*time.Millisecond, p.InitialBackoff)
}

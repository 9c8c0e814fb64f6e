package roomsync

import (
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// Config controls how the SDK synchronizes a room.
type Config struct {
	// URL of the realtime endpoint, used by WSTransport.
	URL              string        `env:"ROOMSYNC_URL"`
	Token            string        `env:"ROOMSYNC_TOKEN"`
	HandshakeTimeout time.Duration `env:"ROOMSYNC_HANDSHAKE_TIMEOUT" validate:"gte=0"`
	ReadTimeout      time.Duration `env:"ROOMSYNC_READ_TIMEOUT" validate:"gte=0"`
	WriteTimeout     time.Duration `env:"ROOMSYNC_WRITE_TIMEOUT" validate:"gte=0"`

	HistoryLimit   int           `env:"ROOMSYNC_HISTORY_LIMIT" validate:"gt=0,lte=500"`
	TypingDebounce time.Duration `env:"ROOMSYNC_TYPING_DEBOUNCE" validate:"gt=0"`
	// TypingExpiry drops a remote typing entry that was not refreshed in time.
	TypingExpiry   time.Duration `env:"ROOMSYNC_TYPING_EXPIRY" validate:"gtfield=TypingDebounce"`
	PresenceWindow time.Duration `env:"ROOMSYNC_PRESENCE_WINDOW" validate:"gt=0"`
	// EventQueueSize is the loop backlog above which a warning is logged.
	EventQueueSize int           `env:"ROOMSYNC_EVENT_QUEUE_SIZE" validate:"gt=0"`

	RetryAttempts       int           `env:"ROOMSYNC_RETRY_ATTEMPTS" validate:"gte=1"`
	RetryInitialBackoff time.Duration `env:"ROOMSYNC_RETRY_INITIAL_BACKOFF" validate:"gte=0"`
	RetryMaxBackoff     time.Duration `env:"ROOMSYNC_RETRY_MAX_BACKOFF" validate:"gtefield=RetryInitialBackoff"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:    10 * time.Second,
		ReadTimeout:         0,
		WriteTimeout:        10 * time.Second,
		HistoryLimit:        50,
		TypingDebounce:      2000 * time.Millisecond,
		TypingExpiry:        6 * time.Second,
		PresenceWindow:      5 * time.Minute,
		EventQueueSize:      256,
		RetryAttempts:       3,
		RetryInitialBackoff: 250 * time.Millisecond,
		RetryMaxBackoff:     4 * time.Second,
	}
}

// LoadConfig starts from DefaultConfig and overrides fields from the
// ROOMSYNC_* environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, WrapError(ErrorInvalidConfig, "failed to read environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field bounds.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid config", err)
	}
	return nil
}

// Retry returns the backoff policy described by the config.
func (c Config) Retry() RetryPolicy {
	return RetryPolicy{
		Attempts:       c.RetryAttempts,
		InitialBackoff: c.RetryInitialBackoff,
		MaxBackoff:     c.RetryMaxBackoff,
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerURL string
	APIURL    string

	UserID    string
	FirstName string
	LastName  string

	StateDB       string
	TypingTimeout time.Duration
	DialTimeout   time.Duration

	Reconnect            bool
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	BackendAddr    string
	BackendHistory int
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; variables already set
// in the environment take precedence over it.
func Load(backendMode bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var err error
	cfg := &Config{
		ServerURL:   getEnv("CHAT_SERVER_URL", "ws://localhost:8000"),
		APIURL:      getEnv("CHAT_API_URL", "http://localhost:8000"),
		UserID:      os.Getenv("CHAT_USER_ID"),
		FirstName:   os.Getenv("CHAT_FIRST_NAME"),
		LastName:    os.Getenv("CHAT_LAST_NAME"),
		StateDB:     getEnv("CHAT_STATE_DB", "chat-state.db"),
		BackendAddr: getEnv("DEVBACKEND_ADDR", ":8000"),
	}

	if cfg.TypingTimeout, err = time.ParseDuration(getEnv("CHAT_TYPING_TIMEOUT", "1s")); err != nil {
		return nil, fmt.Errorf("CHAT_TYPING_TIMEOUT: %w", err)
	}
	if cfg.DialTimeout, err = time.ParseDuration(getEnv("CHAT_DIAL_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("CHAT_DIAL_TIMEOUT: %w", err)
	}
	if cfg.Reconnect, err = strconv.ParseBool(getEnv("CHAT_RECONNECT", "false")); err != nil {
		return nil, fmt.Errorf("CHAT_RECONNECT: %w", err)
	}
	if cfg.ReconnectBaseDelay, err = time.ParseDuration(getEnv("CHAT_RECONNECT_BASE_DELAY", "1s")); err != nil {
		return nil, fmt.Errorf("CHAT_RECONNECT_BASE_DELAY: %w", err)
	}
	if cfg.ReconnectMaxDelay, err = time.ParseDuration(getEnv("CHAT_RECONNECT_MAX_DELAY", "30s")); err != nil {
		return nil, fmt.Errorf("CHAT_RECONNECT_MAX_DELAY: %w", err)
	}
	if cfg.MaxReconnectAttempts, err = strconv.Atoi(getEnv("CHAT_RECONNECT_MAX_ATTEMPTS", "10")); err != nil {
		return nil, fmt.Errorf("CHAT_RECONNECT_MAX_ATTEMPTS: %w", err)
	}
	if cfg.BackendHistory, err = strconv.Atoi(getEnv("DEVBACKEND_HISTORY", "100")); err != nil {
		return nil, fmt.Errorf("DEVBACKEND_HISTORY: %w", err)
	}

	if err := cfg.Validate(backendMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(backendMode bool) error {
	if backendMode {
		if c.BackendHistory <= 0 {
			return fmt.Errorf("DEVBACKEND_HISTORY must be greater than 0")
		}
		return nil
	}

	if c.UserID == "" {
		return fmt.Errorf("CHAT_USER_ID is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("CHAT_SERVER_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("CHAT_SERVER_URL must use ws or wss scheme, got %q", u.Scheme)
	}

	if c.TypingTimeout <= 0 {
		return fmt.Errorf("CHAT_TYPING_TIMEOUT must be greater than 0")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("CHAT_DIAL_TIMEOUT must be greater than 0")
	}

	if c.Reconnect {
		if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
			return fmt.Errorf("reconnect delays must satisfy 0 < base <= max")
		}
		if c.MaxReconnectAttempts < 0 {
			return fmt.Errorf("CHAT_RECONNECT_MAX_ATTEMPTS must not be negative")
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

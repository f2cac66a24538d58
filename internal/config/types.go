package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"ratelimit"`
	Storage   StorageConfig   `json:"storage"`
	Digest    DigestConfig    `json:"digest,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// GroupLog is the chat id that receives mirrored logs and the digest.
	GroupLog string `json:"group_log,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LogFileConfig     `json:"file"`
	Chat    ChatLoggingConfig `json:"chat,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type ChatLoggingConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// RateLimitConfig bounds outbound notification throughput.
//
// MaxPerSecond must stay in [1,50]; the default (35) leaves safety margin
// under the platform ceiling. MaxConcurrent bounds in-flight sends.
type RateLimitConfig struct {
	MaxPerSecond  int `json:"max_per_second,omitempty"`
	MaxConcurrent int `json:"max_concurrent,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // default "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// DigestConfig controls the periodic delivery-stats report to group_log.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "0 9 * * *"
}

// Validate checks everything that does not need live collaborators.
// Used both at startup and before committing a hot reload.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if n := c.RateLimit.MaxPerSecond; n != 0 && (n < 1 || n > 50) {
		return fmt.Errorf("ratelimit.max_per_second must be within [1,50]")
	}
	if c.RateLimit.MaxConcurrent < 0 {
		return fmt.Errorf("ratelimit.max_concurrent must be >= 0")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

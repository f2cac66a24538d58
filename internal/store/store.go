// Package store persists NotificationGroup configuration.
//
// The detector and dispatcher only ever read snapshots via Groups; all
// mutation goes through UpdateGroups, which gives the mutator exclusive
// read-modify-write access and persists the result before returning.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"snitchbot/internal/snitch"
	logx "snitchbot/pkg/logx"
)

var ErrNoGroup = errors.New("notification group does not exist")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite; 0 means default
}

// Store is the configuration adapter the core depends on.
type Store interface {
	// Groups returns a snapshot of all groups in scope, keyed by name.
	Groups(ctx context.Context, scopeID int64) (map[string]*snitch.Group, error)

	// UpdateGroups runs mutator against the live mapping for scope with no
	// other mutator interleaving, and persists the result before returning.
	// A non-nil mutator error aborts the write and is returned unchanged.
	UpdateGroups(ctx context.Context, scopeID int64, mutator func(groups map[string]*snitch.Group) error) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"snitchbot/internal/snitch"
	logx "snitchbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	// mu serializes UpdateGroups so mutators never interleave per process.
	// The transaction below guards against other processes.
	mu sync.Mutex
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Groups(ctx context.Context, scopeID int64) (map[string]*snitch.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, message, words, targets FROM notify_groups WHERE scope_id = ?`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]*snitch.Group{}
	for rows.Next() {
		var (
			name    string
			message sql.NullString
			words   string
			targets string
		)
		if err := rows.Scan(&name, &message, &words, &targets); err != nil {
			return nil, err
		}
		g, err := decodeGroup(message.String, words, targets)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		out[name] = g
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateGroups(ctx context.Context, scopeID int64, mutator func(map[string]*snitch.Group) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	groups, err := loadGroupsTx(ctx, tx, scopeID)
	if err != nil {
		return err
	}

	if err := mutator(groups); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notify_groups WHERE scope_id = ?`, scopeID); err != nil {
		return err
	}
	for name, g := range groups {
		if g == nil {
			continue
		}
		words, targets, err := encodeGroup(g)
		if err != nil {
			return fmt.Errorf("group %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notify_groups(scope_id, name, message, words, targets) VALUES(?,?,?,?,?)`,
			scopeID, name, nullStr(g.Message), words, targets,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func loadGroupsTx(ctx context.Context, tx *sql.Tx, scopeID int64) (map[string]*snitch.Group, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT name, message, words, targets FROM notify_groups WHERE scope_id = ?`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]*snitch.Group{}
	for rows.Next() {
		var (
			name    string
			message sql.NullString
			words   string
			targets string
		)
		if err := rows.Scan(&name, &message, &words, &targets); err != nil {
			return nil, err
		}
		g, err := decodeGroup(message.String, words, targets)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		out[name] = g
	}
	return out, rows.Err()
}

func decodeGroup(message, words, targets string) (*snitch.Group, error) {
	g := snitch.NewGroup()
	g.Message = message
	if words != "" {
		if err := json.Unmarshal([]byte(words), &g.Words); err != nil {
			return nil, fmt.Errorf("words column: %w", err)
		}
	}
	if targets != "" {
		if err := json.Unmarshal([]byte(targets), &g.Targets); err != nil {
			return nil, fmt.Errorf("targets column: %w", err)
		}
	}
	if g.Targets == nil {
		g.Targets = map[string]snitch.Target{}
	}
	return g, nil
}

func encodeGroup(g *snitch.Group) (words, targets string, err error) {
	w := g.Words
	if w == nil {
		w = []string{}
	}
	wb, err := json.Marshal(w)
	if err != nil {
		return "", "", err
	}
	t := g.Targets
	if t == nil {
		t = map[string]snitch.Target{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", "", err
	}
	return string(wb), string(tb), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

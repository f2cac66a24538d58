package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [99]
  group_log: "-1001234567890"
  poll_timeout: "10s"
logging:
  level: debug
  console: true
  file:
    enabled: false
ratelimit:
  max_per_second: 20
  max_concurrent: 5
storage:
  path: ./data/snitch.db
digest:
  enabled: true
  schedule: "0 9 * * *"
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 99 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.RateLimit.MaxPerSecond != 20 || cfg.RateLimit.MaxConcurrent != 5 {
		t.Fatalf("ratelimit = %+v", cfg.RateLimit)
	}
	if !cfg.Digest.Enabled || cfg.Digest.Schedule != "0 9 * * *" {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nwhatever: true\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestParseValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing token",
			body: "telegram:\n  token: \"\"\nstorage:\n  path: ./x.db\n",
			want: "telegram.token",
		},
		{
			name: "missing storage path",
			body: "telegram:\n  token: \"123:abc\"\nstorage:\n  path: \"\"\n",
			want: "storage.path",
		},
		{
			name: "rate out of range",
			body: "telegram:\n  token: \"123:abc\"\nstorage:\n  path: ./x.db\nratelimit:\n  max_per_second: 80\n",
			want: "max_per_second",
		},
		{
			name: "bad duration",
			body: "telegram:\n  token: \"123:abc\"\n  poll_timeout: soon\nstorage:\n  path: ./x.db\n",
			want: "poll_timeout",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "config.yaml", tt.body))
			_, err := m.Parse()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse = %v, want error naming %s", err, tt.want)
			}
		})
	}
}

func TestLoadCommitsSnapshot(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get returned a different snapshot")
	}
}

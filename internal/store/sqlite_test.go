package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"snitchbot/internal/snitch"
	logx "snitchbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "snitch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGroupsEmptyScope(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	groups, err := st.Groups(context.Background(), 1)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("fresh scope has %d groups", len(groups))
	}
}

func TestUpdateGroupsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	err := st.UpdateGroups(ctx, 1, func(groups map[string]*snitch.Group) error {
		g := snitch.NewGroup()
		g.AddWord("wifi")
		g.AddWord("outage")
		g.Message = "heads up {{author}}"
		g.Targets["ops"] = snitch.Target{ID: 42, Kind: snitch.KindDirectRecipient}
		groups["net"] = g
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateGroups: %v", err)
	}

	groups, err := st.Groups(ctx, 1)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	g := groups["net"]
	if g == nil {
		t.Fatal("group not persisted")
	}
	if len(g.Words) != 2 || g.Words[0] != "wifi" || g.Words[1] != "outage" {
		t.Fatalf("words = %v", g.Words)
	}
	if g.Message != "heads up {{author}}" {
		t.Fatalf("message = %q", g.Message)
	}
	if tgt := g.Targets["ops"]; tgt.ID != 42 || tgt.Kind != snitch.KindDirectRecipient {
		t.Fatalf("target = %+v", tgt)
	}
}

func TestUpdateGroupsScopesAreIsolated(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for scope, word := range map[int64]string{1: "alpha", 2: "beta"} {
		err := st.UpdateGroups(ctx, scope, func(groups map[string]*snitch.Group) error {
			g := snitch.NewGroup()
			g.AddWord(word)
			groups["g"] = g
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateGroups(scope %d): %v", scope, err)
		}
	}

	one, err := st.Groups(ctx, 1)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if got := one["g"].Words; len(got) != 1 || got[0] != "alpha" {
		t.Fatalf("scope 1 words = %v", got)
	}
	two, err := st.Groups(ctx, 2)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if got := two["g"].Words; len(got) != 1 || got[0] != "beta" {
		t.Fatalf("scope 2 words = %v", got)
	}
}

func TestUpdateGroupsMutatorErrorAborts(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("nope")
	err := st.UpdateGroups(ctx, 1, func(groups map[string]*snitch.Group) error {
		g := snitch.NewGroup()
		g.AddWord("wifi")
		groups["net"] = g
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateGroups = %v, want mutator error unchanged", err)
	}

	groups, err := st.Groups(ctx, 1)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 0 {
		t.Fatal("aborted mutation was persisted")
	}
}

func TestUpdateGroupsDelete(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	err := st.UpdateGroups(ctx, 1, func(groups map[string]*snitch.Group) error {
		for _, name := range []string{"a", "b"} {
			g := snitch.NewGroup()
			g.AddWord(name)
			groups[name] = g
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateGroups: %v", err)
	}

	err = st.UpdateGroups(ctx, 1, func(groups map[string]*snitch.Group) error {
		delete(groups, "a")
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateGroups: %v", err)
	}

	groups, err := st.Groups(ctx, 1)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if _, ok := groups["a"]; ok {
		t.Fatal("deleted group still present")
	}
	if _, ok := groups["b"]; !ok {
		t.Fatal("surviving group lost")
	}
}

func TestAddWordIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := st.UpdateGroups(ctx, 1, func(groups map[string]*snitch.Group) error {
			g := groups["net"]
			if g == nil {
				g = snitch.NewGroup()
				groups["net"] = g
			}
			g.AddWord("wifi")
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateGroups: %v", err)
		}
	}

	groups, err := st.Groups(ctx, 1)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if got := groups["net"].Words; len(got) != 1 {
		t.Fatalf("words = %v, want a single entry", got)
	}
}

package telegram

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"snitchbot/internal/transport"
)

func TestRoleIDStableAndFolded(t *testing.T) {
	t.Parallel()

	a := RoleID("Moderator")
	if a != RoleID("moderator") || a != RoleID("  MODERATOR ") {
		t.Fatal("role id is not case/space insensitive")
	}
	if a == RoleID("oncall") {
		t.Fatal("distinct titles collide")
	}
}

func TestRenderBody(t *testing.T) {
	t.Parallel()

	if got := renderBody("hello", nil); got != "hello" {
		t.Fatalf("plain body = %q", got)
	}

	got := renderBody("hello", &transport.Attachment{
		Title:   "alice in general",
		Excerpt: "line one\nline two",
		Link:    "https://t.me/c/1/2",
	})
	want := "hello\n\nalice in general\n> line one\n> line two\nhttps://t.me/c/1/2"
	if got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}
}

func TestMapSendErr(t *testing.T) {
	t.Parallel()

	if mapSendErr(nil) != nil {
		t.Fatal("nil error mapped to non-nil")
	}

	plain := errors.New("forbidden: bot was blocked by the user")
	if got := mapSendErr(plain); got != plain {
		t.Fatalf("terminal error rewrapped: %v", got)
	}

	flood := tele.FloodError{RetryAfter: 4}
	got := mapSendErr(flood)
	after, transient := transport.RetryAfter(got)
	if !transient {
		t.Fatalf("flood error not transient: %v", got)
	}
	if after != 4*time.Second {
		t.Fatalf("retry-after = %v, want 4s", after)
	}
}

func TestMessageLink(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:   7,
		Chat: &tele.Chat{ID: -1001234567890, Type: tele.ChatSuperGroup},
	}
	if got, want := messageLink(m), "https://t.me/c/1234567890/7"; got != want {
		t.Fatalf("link = %q, want %q", got, want)
	}

	m.Chat.Type = tele.ChatGroup
	if got := messageLink(m); got != "" {
		t.Fatalf("basic group got a link: %q", got)
	}
}

package core

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"/snitch list", []string{"/snitch", "list"}},
		{"/snitch on tech wifi", []string{"/snitch", "on", "tech", "wifi"}},
		{`/snitch on tech "wifi is down" computer`, []string{"/snitch", "on", "tech", "wifi is down", "computer"}},
		{`/snitch with tech 'saw {{words}}'`, []string{"/snitch", "with", "tech", "saw {{words}}"}},
		{`a\ b c`, []string{"a b", "c"}},
		{`"unterminated quote`, []string{"unterminated quote"}},
		{"tabs\tand\nnewlines", []string{"tabs", "and", "newlines"}},
	}
	for _, tt := range tests {
		got := tokenizeCommandLine(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	short := "one line\n"
	if got := paginate(short, 100); len(got) != 1 || got[0] != short {
		t.Fatalf("paginate(short) = %v", got)
	}

	long := "aaaa\nbbbb\ncccc\ndddd\n"
	pages := paginate(long, 10)
	if len(pages) < 2 {
		t.Fatalf("expected multiple pages, got %d", len(pages))
	}
	var joined string
	for _, p := range pages {
		if len(p) > 10 {
			t.Fatalf("page exceeds limit: %q", p)
		}
		joined += p
	}
	if joined != long {
		t.Fatalf("pages lose content: %q", joined)
	}
}

package snitch

import (
	"reflect"
	"testing"

	logx "snitchbot/pkg/logx"
)

func groupsOf(words ...string) map[string]*Group {
	g := NewGroup()
	g.Words = words
	return map[string]*Group{"g": g}
}

func TestDetectorEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		groups map[string]*Group
		text   string
		want   map[string][]string
	}{
		{
			name:   "whole word match",
			groups: groupsOf("wifi"),
			text:   "the wifi is down",
			want:   map[string][]string{"g": {"wifi"}},
		},
		{
			name:   "substring does not match",
			groups: groupsOf("cat"),
			text:   "concatenate these",
			want:   nil,
		},
		{
			name:   "case insensitive, message casing preserved",
			groups: groupsOf("wifi"),
			text:   "WiFi keeps dropping",
			want:   map[string][]string{"g": {"WiFi"}},
		},
		{
			name:   "punctuation is a boundary",
			groups: groupsOf("deploy"),
			text:   "deploy!",
			want:   map[string][]string{"g": {"deploy"}},
		},
		{
			name:   "regex metacharacters are literal",
			groups: groupsOf("c.t"),
			text:   "the cat sat",
			want:   nil,
		},
		{
			name:   "repeated word reported once, first casing wins",
			groups: groupsOf("outage"),
			text:   "Outage again? what an outage",
			want:   map[string][]string{"g": {"Outage"}},
		},
		{
			name:   "multiple words in message order",
			groups: groupsOf("wifi", "outage"),
			text:   "outage because the wifi died",
			want:   map[string][]string{"g": {"outage", "wifi"}},
		},
		{
			name:   "empty word list never matches",
			groups: groupsOf(),
			text:   "anything at all",
			want:   nil,
		},
		{
			name:   "blank words are ignored",
			groups: groupsOf(""),
			text:   "anything at all",
			want:   nil,
		},
		{
			name:   "empty text",
			groups: groupsOf("wifi"),
			text:   "",
			want:   nil,
		},
		{
			name:   "nil group skipped",
			groups: map[string]*Group{"g": nil},
			text:   "anything",
			want:   nil,
		},
	}

	d := NewDetector(logx.Nop())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.Evaluate(tt.groups, tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Evaluate(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectorEvaluateIsolatesGroups(t *testing.T) {
	t.Parallel()

	good := NewGroup()
	good.Words = []string{"wifi"}
	empty := NewGroup()
	groups := map[string]*Group{"good": good, "empty": empty}

	d := NewDetector(logx.Nop())
	got := d.Evaluate(groups, "wifi down")
	want := map[string][]string{"good": {"wifi"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Evaluate = %v, want %v", got, want)
	}
}

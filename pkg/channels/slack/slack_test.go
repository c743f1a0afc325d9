package slack

import (
	"strings"
	"testing"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a < b > c", "a &lt; b &gt; c"},
		{"fish & chips", "fish &amp; chips"},
		{"&<>", "&amp;&lt;&gt;"},
	}
	for _, tt := range tests {
		if got := escape(tt.in); got != tt.want {
			t.Errorf("escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatVisitorMessage(t *testing.T) {
	msg := &bridge.Message{
		Content: "1 < 2",
		Attachments: []bridge.Attachment{
			{Type: "image", Name: "cat.png", URL: "https://x/cat.png"},
		},
	}
	got := formatVisitorMessage(msg, &bridge.Session{Identity: bridge.Identity{Name: "Ada"}})
	if !strings.HasPrefix(got, "*Ada*: 1 &lt; 2") {
		t.Errorf("header = %q", got)
	}
	if !strings.Contains(got, "🖼️ <https://x/cat.png|cat.png>") {
		t.Errorf("attachment link missing: %q", got)
	}

	anon := formatVisitorMessage(&bridge.Message{Content: "hi"}, &bridge.Session{})
	if anon != "*Visitor*: hi" {
		t.Errorf("anonymous = %q", anon)
	}
}

func TestSessionBlocks(t *testing.T) {
	blocks := sessionBlocks(&bridge.Session{
		ID:       "s1",
		Metadata: bridge.SessionMetadata{Page: "/docs", City: "Berlin", Country: "DE"},
	})
	// Header plus one section of fields.
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d", len(blocks))
	}

	bare := sessionBlocks(&bridge.Session{})
	if len(bare) != 1 {
		t.Fatalf("bare session len(blocks) = %d", len(bare))
	}
}

func TestSessionForThread(t *testing.T) {
	c := &Channel{
		threads:  map[string]string{"s1": "1700.0001"},
		sessions: map[string]string{"1700.0001": "s1"},
	}
	if s, ok := c.SessionForThread("1700.0001"); !ok || s != "s1" {
		t.Errorf("SessionForThread = %q, %v", s, ok)
	}
	if _, ok := c.SessionForThread("1700.9999"); ok {
		t.Error("unknown ts should not resolve")
	}
}

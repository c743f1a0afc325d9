package telegram

import (
	"strings"
	"testing"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
)

func TestTopicName(t *testing.T) {
	tests := []struct {
		name    string
		session *bridge.Session
		want    string
	}{
		{
			name:    "identified visitor",
			session: &bridge.Session{ID: "abcdef1234", Identity: bridge.Identity{Name: "Ada"}},
			want:    "💬 Ada",
		},
		{
			name:    "anonymous uses short id",
			session: &bridge.Session{ID: "abcdef1234567890"},
			want:    "💬 Visitor abcdef12",
		},
		{
			name:    "short id kept whole",
			session: &bridge.Session{ID: "s1"},
			want:    "💬 Visitor s1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topicName(tt.session); got != tt.want {
				t.Errorf("topicName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionCardEscapesHTML(t *testing.T) {
	card := sessionCard(&bridge.Session{
		ID: "s1",
		Metadata: bridge.SessionMetadata{
			Page:    "/pricing?a=<b>",
			City:    "Berlin",
			Country: "DE",
		},
	})
	if !strings.Contains(card, "New chat started") {
		t.Error("missing header")
	}
	if !strings.Contains(card, "📄 /pricing?a=&lt;b&gt;") {
		t.Errorf("page not escaped: %q", card)
	}
	if !strings.Contains(card, "📍 Berlin, DE") {
		t.Errorf("location missing: %q", card)
	}
	if !strings.Contains(card, "<code>s1</code>") {
		t.Errorf("session id missing: %q", card)
	}
}

func TestSessionCardCountryOnly(t *testing.T) {
	card := sessionCard(&bridge.Session{
		ID:       "s1",
		Metadata: bridge.SessionMetadata{Country: "DE"},
	})
	if !strings.Contains(card, "📍 DE") || strings.Contains(card, ", DE") {
		t.Errorf("bad location line: %q", card)
	}
}

func TestFormatVisitorMessage(t *testing.T) {
	msg := &bridge.Message{
		Content: "see <this>",
		Attachments: []bridge.Attachment{
			{Type: "image", Name: "cat.png", URL: "https://x/cat.png"},
			{Type: "file", Name: "doc.pdf", URL: "https://x/doc.pdf"},
		},
	}
	got := formatVisitorMessage(msg, &bridge.Session{Identity: bridge.Identity{Name: "Ada"}})
	if !strings.HasPrefix(got, "<b>Ada</b>: see &lt;this&gt;") {
		t.Errorf("header = %q", got)
	}
	if !strings.Contains(got, "🖼️ <a href=\"https://x/cat.png\">cat.png</a>") {
		t.Errorf("image attachment missing: %q", got)
	}
	if !strings.Contains(got, "📎 <a href=\"https://x/doc.pdf\">doc.pdf</a>") {
		t.Errorf("file attachment missing: %q", got)
	}

	anon := formatVisitorMessage(&bridge.Message{Content: "hi"}, &bridge.Session{})
	if !strings.HasPrefix(anon, "<b>Visitor</b>: hi") {
		t.Errorf("anonymous header = %q", anon)
	}
}

func TestIdentityLines(t *testing.T) {
	lines := identityLines(bridge.Identity{Name: "Ada", Email: "ada@example.com"})
	if len(lines) != 2 || lines[0] != "Name: Ada" || lines[1] != "Email: ada@example.com" {
		t.Errorf("lines = %v", lines)
	}
	if got := identityLines(bridge.Identity{}); len(got) != 0 {
		t.Errorf("empty identity lines = %v", got)
	}
}

func TestSessionForThread(t *testing.T) {
	c := &Channel{
		topics:   map[string]int{"s1": 42},
		sessions: map[int]string{42: "s1"},
	}

	if s, ok := c.SessionForThread("42"); !ok || s != "s1" {
		t.Errorf("SessionForThread(42) = %q, %v", s, ok)
	}
	if _, ok := c.SessionForThread("99"); ok {
		t.Error("unknown topic should not resolve")
	}
	if _, ok := c.SessionForThread("abc"); ok {
		t.Error("non-numeric topic should not resolve")
	}
}

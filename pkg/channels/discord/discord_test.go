package discord

import (
	"strings"
	"testing"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
)

func TestThreadName(t *testing.T) {
	tests := []struct {
		name    string
		session *bridge.Session
		want    string
	}{
		{
			name:    "identified visitor",
			session: &bridge.Session{ID: "x", Identity: bridge.Identity{Name: "Ada"}},
			want:    "💬 Ada",
		},
		{
			name:    "anonymous uses short id",
			session: &bridge.Session{ID: "0123456789abcdef"},
			want:    "💬 Visitor 01234567",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := threadName(tt.session); got != tt.want {
				t.Errorf("threadName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatVisitorMessage(t *testing.T) {
	msg := &bridge.Message{
		Content: "look at this",
		Attachments: []bridge.Attachment{
			{Type: "image", Name: "cat.png", URL: "https://x/cat.png"},
			{Type: "file", Name: "doc.pdf", URL: "https://x/doc.pdf"},
		},
	}
	got := formatVisitorMessage(msg, &bridge.Session{Identity: bridge.Identity{Name: "Ada"}})
	if !strings.HasPrefix(got, "**Ada**: look at this") {
		t.Errorf("header = %q", got)
	}
	if !strings.Contains(got, "🖼️ [cat.png](https://x/cat.png)") {
		t.Errorf("image link missing: %q", got)
	}
	if !strings.Contains(got, "📎 [doc.pdf](https://x/doc.pdf)") {
		t.Errorf("file link missing: %q", got)
	}

	anon := formatVisitorMessage(&bridge.Message{Content: "hi"}, &bridge.Session{})
	if anon != "**Visitor**: hi" {
		t.Errorf("anonymous = %q", anon)
	}
}

func TestSessionForThread(t *testing.T) {
	c := &Channel{
		threads:  map[string]string{"s1": "thread1"},
		sessions: map[string]string{"thread1": "s1"},
	}
	if s, ok := c.SessionForThread("thread1"); !ok || s != "s1" {
		t.Errorf("SessionForThread = %q, %v", s, ok)
	}
	if _, ok := c.SessionForThread("nope"); ok {
		t.Error("unknown thread should not resolve")
	}
}

package registry

import (
	"path/filepath"
	"testing"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := &bridge.MessageIDs{TelegramMessageID: 50, DiscordMessageID: "d1"}
	if err := s.SaveBridgeIDs("m1", in); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadBridgeIDs("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != *in {
		t.Errorf("LoadBridgeIDs() = %+v, want %+v", got, in)
	}
}

func TestSQLiteStoreMissReturnsNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.LoadBridgeIDs("unknown")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("miss returned %+v", got)
	}
}

// The upsert must merge like MessageIDs.Merge: non-zero incoming fields
// win, zero fields never clobber stored values.
func TestSQLiteStoreUpsertMerges(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveBridgeIDs("m1", &bridge.MessageIDs{TelegramMessageID: 50}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBridgeIDs("m1", &bridge.MessageIDs{SlackMessageTS: "1700.0001"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBridgeIDs("m1", &bridge.MessageIDs{DiscordMessageID: "d1"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadBridgeIDs("m1")
	if err != nil {
		t.Fatal(err)
	}
	want := bridge.MessageIDs{TelegramMessageID: 50, DiscordMessageID: "d1", SlackMessageTS: "1700.0001"}
	if got == nil || *got != want {
		t.Errorf("merged ids = %+v, want %+v", got, want)
	}

	// Overwrite with a newer non-zero value.
	if err := s.SaveBridgeIDs("m1", &bridge.MessageIDs{TelegramMessageID: 99}); err != nil {
		t.Fatal(err)
	}
	got, err = s.LoadBridgeIDs("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TelegramMessageID != 99 || got.DiscordMessageID != "d1" || got.SlackMessageTS != "1700.0001" {
		t.Errorf("non-zero overwrite lost fields: %+v", got)
	}

	if err := s.SaveBridgeIDs("m1", nil); err != nil {
		t.Errorf("nil ids should be a no-op, got %v", err)
	}
}

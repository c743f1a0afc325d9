package registry

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
)

// SQLiteStore persists bridge message ids so operator replies keep
// working across gateway restarts.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS bridge_message_ids (
	message_id  TEXT PRIMARY KEY,
	telegram_id INTEGER NOT NULL DEFAULT 0,
	discord_id  TEXT NOT NULL DEFAULT '',
	slack_ts    TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// OpenSQLiteStore opens (and migrates) the store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadBridgeIDs(messageID string) (*bridge.MessageIDs, error) {
	row := s.db.QueryRow(
		`SELECT telegram_id, discord_id, slack_ts FROM bridge_message_ids WHERE message_id = ?`,
		messageID,
	)
	var ids bridge.MessageIDs
	err := row.Scan(&ids.TelegramMessageID, &ids.DiscordMessageID, &ids.SlackMessageTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bridge ids: %w", err)
	}
	return &ids, nil
}

func (s *SQLiteStore) SaveBridgeIDs(messageID string, ids *bridge.MessageIDs) error {
	if ids == nil {
		return nil
	}
	// Non-zero incoming fields win; stored values survive zero fields,
	// matching the in-memory merge.
	_, err := s.db.Exec(`
INSERT INTO bridge_message_ids (message_id, telegram_id, discord_id, slack_ts, updated_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(message_id) DO UPDATE SET
	telegram_id = CASE WHEN excluded.telegram_id != 0 THEN excluded.telegram_id ELSE telegram_id END,
	discord_id  = CASE WHEN excluded.discord_id != '' THEN excluded.discord_id ELSE discord_id END,
	slack_ts    = CASE WHEN excluded.slack_ts != '' THEN excluded.slack_ts ELSE slack_ts END,
	updated_at  = CURRENT_TIMESTAMP`,
		messageID, ids.TelegramMessageID, ids.DiscordMessageID, ids.SlackMessageTS,
	)
	if err != nil {
		return fmt.Errorf("save bridge ids: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

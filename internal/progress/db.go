// Package progress はリスナーごとのポッドキャスト再生位置とブックマークを保存する。
// リスナーはログイン不要で、クッキーに保存したIDで識別する。
package progress

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// schemaSQL は再生位置とブックマークのスキーマ。起動のたびに適用しても冪等。
const schemaSQL = `
CREATE TABLE IF NOT EXISTS listening_progress (
	listener_id      TEXT     NOT NULL,
	podcast_slug     TEXT     NOT NULL,
	position_seconds INTEGER  NOT NULL DEFAULT 0,
	duration_seconds INTEGER  NOT NULL DEFAULT 0,
	completed        INTEGER  NOT NULL DEFAULT 0,
	updated_at       DATETIME NOT NULL,
	PRIMARY KEY (listener_id, podcast_slug)
);

CREATE INDEX IF NOT EXISTS idx_listening_progress_updated_at ON listening_progress (updated_at);

CREATE TABLE IF NOT EXISTS bookmarks (
	id               TEXT     PRIMARY KEY,
	listener_id      TEXT     NOT NULL,
	podcast_slug     TEXT     NOT NULL,
	position_seconds INTEGER  NOT NULL,
	label            TEXT     NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bookmarks_listener_podcast ON bookmarks (listener_id, podcast_slug);

CREATE TRIGGER IF NOT EXISTS trg_progress_delete_bookmarks
AFTER DELETE ON listening_progress
BEGIN
	DELETE FROM bookmarks WHERE listener_id = OLD.listener_id AND podcast_slug = OLD.podcast_slug;
END;
`

// Open はSQLiteデータベースを開き、スキーマを適用する。
// ":memory:" を指定するとテスト用のインメモリDBになる。
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLiteは書き込みが直列化されるため、接続は1本に絞る
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced by the repositories.
var (
	ErrBroadcastNotFound    = errors.New("store: broadcast not found")
	ErrRecipientNotFound    = errors.New("store: broadcast recipient not found")
	ErrConversationNotFound = errors.New("store: conversation not found")
	ErrMessageNotFound      = errors.New("store: message not found")
)

// Store bundles the SQLite-backed repositories behind one connection.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at path, creating the file and the
// schema when absent. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`create table if not exists broadcasts(
			id               text not null primary key,
			tenant_id        text not null,
			account_id       text not null,
			name             text not null,
			channel          text not null,
			template         text not null,
			template_id      text not null default '',
			audience         text not null,
			status           text not null default 'DRAFT',
			total_recipients integer not null default 0,
			sent_count       integer not null default 0,
			failed_count     integer not null default 0,
			scheduled_at     datetime null,
			started_at       datetime null,
			completed_at     datetime null,
			created_at       datetime not null,
			updated_at       datetime not null
		)`,
		`create index if not exists idx_broadcasts_tenant on broadcasts(tenant_id, status)`,
		`create table if not exists broadcast_recipients(
			id                  text not null primary key,
			broadcast_id        text not null references broadcasts(id),
			contact_id          text not null,
			recipient_address   text not null,
			variables           text not null default '{}',
			status              text not null default 'PENDING',
			provider_message_id text not null default '',
			error_message       text not null default '',
			updated_at          datetime not null
		)`,
		`create index if not exists idx_recipients_broadcast on broadcast_recipients(broadcast_id, status)`,
		`create index if not exists idx_recipients_provider on broadcast_recipients(provider_message_id)`,
		`create table if not exists conversations(
			id             text not null primary key,
			tenant_id      text not null,
			contact_id     text not null,
			channel_type   text not null,
			status         text not null default 'OPEN',
			unread_count   integer not null default 0,
			assigned_to_id text not null default '',
			closed_at      datetime null,
			created_at     datetime not null,
			updated_at     datetime not null,
			unique(tenant_id, contact_id, channel_type)
		)`,
		`create table if not exists messages(
			id              text not null primary key,
			conversation_id text not null references conversations(id),
			channel_type    text not null,
			direction       text not null,
			content_type    text not null,
			external_id     text not null default '',
			feedback_tagged integer not null default 0,
			sent_at         datetime null,
			delivered_at    datetime null,
			read_at         datetime null,
			failed_at       datetime null,
			failure_reason  text not null default '',
			created_at      datetime not null
		)`,
		`create index if not exists idx_messages_conversation on messages(conversation_id, created_at)`,
		`create index if not exists idx_messages_external on messages(external_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

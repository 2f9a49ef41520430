package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements ListDirectory, UserDirectory and Archive on a
// local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// FindByKey loads a routing target and its members by grouping key.
func (s *SQLiteStore) FindByKey(ctx context.Context, key string) (*RoutingTarget, error) {
	var row struct {
		ID            string `db:"id"`
		Key           string `db:"key"`
		Name          string `db:"name"`
		SenderAddress string `db:"sender_address"`
		SenderName    string `db:"sender_name"`
	}

	err := s.db.GetContext(ctx, &row,
		"SELECT id, key, name, sender_address, sender_name FROM mailing_lists WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying mailing list %q: %w", key, err)
	}

	target := &RoutingTarget{
		Key:           row.Key,
		Name:          row.Name,
		SenderAddress: row.SenderAddress,
		SenderName:    row.SenderName,
	}

	target.Subscribers, err = s.members(ctx, row.ID, "subscriber")
	if err != nil {
		return nil, err
	}
	target.Senders, err = s.members(ctx, row.ID, "sender")
	if err != nil {
		return nil, err
	}

	return target, nil
}

func (s *SQLiteStore) members(ctx context.Context, listID, role string) ([]Member, error) {
	var members []Member
	err := s.db.SelectContext(ctx, &members,
		"SELECT name, email FROM list_members WHERE list_id = ? AND role = ? ORDER BY rowid", listID, role)
	if err != nil {
		return nil, fmt.Errorf("querying %s members: %w", role, err)
	}
	return members, nil
}

// PrimaryEmails resolves members to their primary addresses,
// deduplicated by address string.
func (s *SQLiteStore) PrimaryEmails(_ context.Context, members []Member) ([]string, error) {
	return DedupEmails(members), nil
}

// StoreMessage persists an archived message with its attachments and
// appends it to the owning list's archive. Generates record IDs when
// absent.
func (s *SQLiteStore) StoreMessage(ctx context.Context, record *MessageRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, list_key, subject, sender, body, received, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.ListKey, record.Subject, record.Sender,
		record.Body, record.Received, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting message record: %w", err)
	}

	for i := range record.Attachments {
		attachment := &record.Attachments[i]
		if attachment.ID == "" {
			attachment.ID = uuid.New().String()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO attachments (id, message_id, filename, mime_type, content)
			VALUES (?, ?, ?, ?, ?)`,
			attachment.ID, record.ID, attachment.Filename, attachment.MimeType, attachment.Content,
		)
		if err != nil {
			return fmt.Errorf("inserting attachment %q: %w", attachment.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message record: %w", err)
	}
	return nil
}

// Message loads an archived message with its attachments.
func (s *SQLiteStore) Message(ctx context.Context, id string) (*MessageRecord, error) {
	var row struct {
		ID       string    `db:"id"`
		ListKey  string    `db:"list_key"`
		Subject  string    `db:"subject"`
		Sender   string    `db:"sender"`
		Body     string    `db:"body"`
		Received time.Time `db:"received"`
	}

	err := s.db.GetContext(ctx, &row,
		"SELECT id, list_key, subject, sender, body, received FROM messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message %q: %w", id, err)
	}

	record := &MessageRecord{
		ID:       row.ID,
		ListKey:  row.ListKey,
		Subject:  row.Subject,
		Sender:   row.Sender,
		Body:     row.Body,
		Received: row.Received,
	}

	var attachments []struct {
		ID       string `db:"id"`
		Filename string `db:"filename"`
		MimeType string `db:"mime_type"`
		Content  []byte `db:"content"`
	}
	err = s.db.SelectContext(ctx, &attachments,
		"SELECT id, filename, mime_type, content FROM attachments WHERE message_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}

	for _, a := range attachments {
		record.Attachments = append(record.Attachments, AttachmentRecord{
			ID:       a.ID,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Content:  a.Content,
		})
	}

	return record, nil
}

// UpsertList creates or replaces a routing target with its members.
// Used by provisioning tooling and tests.
func (s *SQLiteStore) UpsertList(ctx context.Context, list *RoutingTarget) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var listID string
	err = tx.GetContext(ctx, &listID, "SELECT id FROM mailing_lists WHERE key = ?", list.Key)
	if errors.Is(err, sql.ErrNoRows) {
		listID = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mailing_lists (id, key, name, sender_address, sender_name)
			VALUES (?, ?, ?, ?, ?)`,
			listID, list.Key, list.Name, list.SenderAddress, list.SenderName,
		)
	} else if err == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE mailing_lists SET name = ?, sender_address = ?, sender_name = ? WHERE id = ?`,
			list.Name, list.SenderAddress, list.SenderName, listID,
		)
	}
	if err != nil {
		return fmt.Errorf("upserting mailing list %q: %w", list.Key, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM list_members WHERE list_id = ?", listID); err != nil {
		return fmt.Errorf("clearing list members: %w", err)
	}

	insert := func(members []Member, role string) error {
		for _, member := range members {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO list_members (list_id, name, email, role) VALUES (?, ?, ?, ?)`,
				listID, member.Name, member.Email, role,
			)
			if err != nil {
				return fmt.Errorf("inserting %s member %q: %w", role, member.Email, err)
			}
		}
		return nil
	}
	if err := insert(list.Subscribers, "subscriber"); err != nil {
		return err
	}
	if err := insert(list.Senders, "sender"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing list upsert: %w", err)
	}
	return nil
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE schema_version (version INTEGER NOT NULL);

			CREATE TABLE mailing_lists (
				id             TEXT PRIMARY KEY,
				key            TEXT NOT NULL UNIQUE,
				name           TEXT NOT NULL,
				sender_address TEXT NOT NULL,
				sender_name    TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE list_members (
				list_id TEXT NOT NULL REFERENCES mailing_lists(id) ON DELETE CASCADE,
				name    TEXT NOT NULL DEFAULT '',
				email   TEXT NOT NULL,
				role    TEXT NOT NULL CHECK (role IN ('subscriber', 'sender'))
			);
			CREATE INDEX idx_list_members_list ON list_members(list_id, role);

			CREATE TABLE messages (
				id         TEXT PRIMARY KEY,
				list_key   TEXT NOT NULL,
				subject    TEXT NOT NULL,
				sender     TEXT NOT NULL,
				body       TEXT NOT NULL,
				received   TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL
			);
			CREATE INDEX idx_messages_list ON messages(list_key);

			CREATE TABLE attachments (
				id         TEXT PRIMARY KEY,
				message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				filename   TEXT NOT NULL,
				mime_type  TEXT NOT NULL DEFAULT '',
				content    BLOB NOT NULL
			);
			CREATE INDEX idx_attachments_message ON attachments(message_id);

			INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}

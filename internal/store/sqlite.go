// Package store implements the canonical contact store on SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"cardsync/internal/csync"
	"cardsync/internal/model"
	"cardsync/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the csync.Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ csync.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens a SQLite contact store. path can be a file path or
// ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the store relies on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single pooled connection keeps the PRAGMAs in effect and makes
	// ":memory:" refer to one database instead of one per connection.
	db.SetMaxOpenConns(1)

	// SQLite ships with foreign keys off for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}

// Migrate brings the schema to the latest version.
func (s *SQLiteStore) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Status(s.db)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Contact operations

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	return s.loadContact(ctx, "SELECT id, state, dirty, created_at, updated_at FROM contacts WHERE id = ?", id)
}

func (s *SQLiteStore) FindContactBySource(ctx context.Context, key model.SourceKey, nativeID string) (*model.Contact, error) {
	const q = `SELECT c.id, c.state, c.dirty, c.created_at, c.updated_at
		FROM contacts c
		JOIN contact_sources cs ON cs.contact_id = c.id
		WHERE cs.kind = ? AND cs.connection_id = ? AND cs.native_id = ?`
	return s.loadContact(ctx, q, string(key.Kind), key.ConnectionID, nativeID)
}

func (s *SQLiteStore) ListContacts(ctx context.Context) ([]*model.Contact, error) {
	return s.listContacts(ctx, "SELECT id, state, dirty, created_at, updated_at FROM contacts ORDER BY created_at, id")
}

func (s *SQLiteStore) ListContactsBySource(ctx context.Context, key model.SourceKey) ([]*model.Contact, error) {
	const q = `SELECT c.id, c.state, c.dirty, c.created_at, c.updated_at
		FROM contacts c
		JOIN contact_sources cs ON cs.contact_id = c.id
		WHERE cs.kind = ? AND cs.connection_id = ?
		ORDER BY c.created_at, c.id`
	return s.listContacts(ctx, q, string(key.Kind), key.ConnectionID)
}

// SaveContact inserts or fully replaces a contact in one transaction, so a
// reader never observes a partially written contact.
func (s *SQLiteStore) SaveContact(ctx context.Context, c *model.Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO contacts (id, state, dirty, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, dirty = excluded.dirty,
			updated_at = excluded.updated_at`,
		c.ID, string(c.State), c.Dirty, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting contact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM contact_fields WHERE contact_id = ?", c.ID); err != nil {
		return fmt.Errorf("clearing fields: %w", err)
	}
	for i, f := range c.Fields {
		_, err := tx.ExecContext(ctx, `INSERT INTO contact_fields
			(contact_id, position, kind, label, value, origin_kind, origin_connection)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, i, string(f.Kind), f.Label, f.Value, string(f.Origin.Kind), f.Origin.ConnectionID)
		if err != nil {
			return fmt.Errorf("inserting field: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM contact_sources WHERE contact_id = ?", c.ID); err != nil {
		return fmt.Errorf("clearing sources: %w", err)
	}
	for _, ref := range c.Sources {
		_, err := tx.ExecContext(ctx, `INSERT INTO contact_sources
			(contact_id, kind, connection_id, native_id, token, content_hash)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, string(ref.Key.Kind), ref.Key.ConnectionID, ref.NativeID, ref.Token, ref.ContentHash)
		if err != nil {
			return fmt.Errorf("inserting source ref: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing contact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadContact(ctx context.Context, query string, args ...any) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	c, err := scanContact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning contact: %w", err)
	}

	if err := s.attachFields(ctx, map[string]*model.Contact{c.ID: c}); err != nil {
		return nil, err
	}
	if err := s.attachSources(ctx, map[string]*model.Contact{c.ID: c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) listContacts(ctx context.Context, query string, args ...any) ([]*model.Contact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*model.Contact
	byID := make(map[string]*model.Contact)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		contacts = append(contacts, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contacts: %w", err)
	}
	if len(contacts) == 0 {
		return nil, nil
	}

	if err := s.attachFields(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.attachSources(ctx, byID); err != nil {
		return nil, err
	}
	return contacts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(r rowScanner) (*model.Contact, error) {
	c := &model.Contact{}
	var state string
	if err := r.Scan(&c.ID, &state, &c.Dirty, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.State = model.LifecycleState(state)
	return c, nil
}

func (s *SQLiteStore) attachFields(ctx context.Context, byID map[string]*model.Contact) error {
	rows, err := s.db.QueryContext(ctx, `SELECT contact_id, kind, label, value, origin_kind, origin_connection
		FROM contact_fields ORDER BY contact_id, position`)
	if err != nil {
		return fmt.Errorf("querying fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var contactID, kind, label, value, originKind, originConn string
		if err := rows.Scan(&contactID, &kind, &label, &value, &originKind, &originConn); err != nil {
			return fmt.Errorf("scanning field: %w", err)
		}
		c, ok := byID[contactID]
		if !ok {
			continue
		}
		c.Fields = append(c.Fields, model.Field{
			Kind:   model.FieldKind(kind),
			Label:  label,
			Value:  value,
			Origin: model.SourceKey{Kind: model.SourceKind(originKind), ConnectionID: originConn},
		})
	}
	return rows.Err()
}

func (s *SQLiteStore) attachSources(ctx context.Context, byID map[string]*model.Contact) error {
	rows, err := s.db.QueryContext(ctx, `SELECT contact_id, kind, connection_id, native_id, token, content_hash
		FROM contact_sources ORDER BY contact_id, kind, connection_id`)
	if err != nil {
		return fmt.Errorf("querying source refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var contactID, kind, connID, nativeID, token, hash string
		if err := rows.Scan(&contactID, &kind, &connID, &nativeID, &token, &hash); err != nil {
			return fmt.Errorf("scanning source ref: %w", err)
		}
		c, ok := byID[contactID]
		if !ok {
			continue
		}
		c.Sources = append(c.Sources, model.SourceRef{
			Key:         model.SourceKey{Kind: model.SourceKind(kind), ConnectionID: connID},
			NativeID:    nativeID,
			Token:       token,
			ContentHash: hash,
		})
	}
	return rows.Err()
}

// Connection operations

func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*model.SyncConnection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, kind, endpoint, address_book_path, username,
		sealed_password, last_sync_at, created_at FROM connections WHERE id = ?`, id)
	conn, err := scanConnection(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning connection: %w", err)
	}
	return conn, nil
}

func (s *SQLiteStore) ListConnections(ctx context.Context) ([]*model.SyncConnection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, kind, endpoint, address_book_path, username,
		sealed_password, last_sync_at, created_at FROM connections ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	var conns []*model.SyncConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func scanConnection(r rowScanner) (*model.SyncConnection, error) {
	conn := &model.SyncConnection{}
	var kind string
	var lastSync sql.NullTime
	if err := r.Scan(&conn.ID, &conn.Name, &kind, &conn.Endpoint, &conn.AddressBookPath,
		&conn.Username, &conn.SealedPassword, &lastSync, &conn.CreatedAt); err != nil {
		return nil, err
	}
	conn.Kind = model.SourceKind(kind)
	if lastSync.Valid {
		t := lastSync.Time
		conn.LastSyncAt = &t
	}
	return conn, nil
}

func (s *SQLiteStore) SaveConnection(ctx context.Context, conn *model.SyncConnection) error {
	var lastSync sql.NullTime
	if conn.LastSyncAt != nil {
		lastSync = sql.NullTime{Time: *conn.LastSyncAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO connections
		(id, name, kind, endpoint, address_book_path, username, sealed_password, last_sync_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, endpoint = excluded.endpoint,
			address_book_path = excluded.address_book_path, username = excluded.username,
			sealed_password = excluded.sealed_password, last_sync_at = excluded.last_sync_at`,
		conn.ID, conn.Name, string(conn.Kind), conn.Endpoint, conn.AddressBookPath,
		conn.Username, conn.SealedPassword, lastSync, conn.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}

// Conflict operations

func (s *SQLiteStore) SaveConflict(ctx context.Context, cf *model.Conflict) error {
	var resolved sql.NullTime
	if cf.ResolvedAt != nil {
		resolved = sql.NullTime{Time: *cf.ResolvedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO conflicts
		(id, contact_id, source_kind, source_connection, remote_raw, remote_token, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET remote_raw = excluded.remote_raw,
			remote_token = excluded.remote_token, resolved_at = excluded.resolved_at`,
		cf.ID, cf.ContactID, string(cf.Source.Kind), cf.Source.ConnectionID,
		cf.RemoteRaw, cf.RemoteToken, cf.CreatedAt, resolved)
	if err != nil {
		return fmt.Errorf("upserting conflict: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, contact_id, source_kind, source_connection,
		remote_raw, remote_token, created_at, resolved_at FROM conflicts WHERE id = ?`, id)
	cf, err := scanConflict(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning conflict: %w", err)
	}
	return cf, nil
}

func (s *SQLiteStore) FindOpenConflict(ctx context.Context, contactID string, key model.SourceKey) (*model.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, contact_id, source_kind, source_connection,
		remote_raw, remote_token, created_at, resolved_at FROM conflicts
		WHERE contact_id = ? AND source_kind = ? AND source_connection = ? AND resolved_at IS NULL`,
		contactID, string(key.Kind), key.ConnectionID)
	cf, err := scanConflict(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning conflict: %w", err)
	}
	return cf, nil
}

func (s *SQLiteStore) ListOpenConflicts(ctx context.Context, connectionID string) ([]*model.Conflict, error) {
	query := `SELECT id, contact_id, source_kind, source_connection,
		remote_raw, remote_token, created_at, resolved_at FROM conflicts
		WHERE resolved_at IS NULL`
	args := []any{}
	if connectionID != "" {
		query += " AND source_connection = ?"
		args = append(args, connectionID)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*model.Conflict
	for rows.Next() {
		cf, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		conflicts = append(conflicts, cf)
	}
	return conflicts, rows.Err()
}

func scanConflict(r rowScanner) (*model.Conflict, error) {
	cf := &model.Conflict{}
	var kind, connID string
	var resolved sql.NullTime
	if err := r.Scan(&cf.ID, &cf.ContactID, &kind, &connID, &cf.RemoteRaw,
		&cf.RemoteToken, &cf.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	cf.Source = model.SourceKey{Kind: model.SourceKind(kind), ConnectionID: connID}
	if resolved.Valid {
		t := resolved.Time
		cf.ResolvedAt = &t
	}
	return cf, nil
}

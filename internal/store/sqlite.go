// ABOUTME: SQLite implementation of the credential and session-token stores using modernc.org/sqlite.
// ABOUTME: Single credentials row, protocol keys keyed by (type, id), atomic ON CONFLICT upserts.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements CredentialStore and SessionTokenStore over a single
// SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	sealer *sealer
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the store at path. If secret is
// non-empty, the credentials payload is encrypted at rest with a key derived
// from it; protocol keys stay plaintext rows since they are rewritten on
// nearly every message. Parent directories are created if needed.
func NewSQLiteStore(path, secret string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		sealer: newSealer(secret),
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "encrypted", secret != "")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			identity   TEXT NOT NULL,
			registered INTEGER NOT NULL,
			payload    BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS protocol_keys (
			key_type   TEXT NOT NULL,
			key_id     TEXT NOT NULL,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (key_type, key_id)
		);

		CREATE TABLE IF NOT EXISTS session_tokens (
			conversation_key TEXT PRIMARY KEY,
			token            TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Load returns the stored credentials, or a fresh unregistered record when
// no row exists (first run).
func (s *SQLiteStore) Load(ctx context.Context) (*Credentials, error) {
	query := `SELECT identity, registered, payload, updated_at FROM credentials WHERE id = 1`

	var creds Credentials
	var registered int
	var payload []byte
	var updatedAt string

	err := s.db.QueryRowContext(ctx, query).Scan(&creds.Identity, &registered, &payload, &updatedAt)
	if err == sql.ErrNoRows {
		s.logger.Debug("no stored credentials, starting fresh")
		return &Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}

	creds.Registered = registered != 0
	creds.Payload, err = s.sealer.open(payload)
	if err != nil {
		return nil, fmt.Errorf("decrypting credentials payload: %w", err)
	}

	creds.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &creds, nil
}

// SaveCredentials upserts the single credentials record.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, creds *Credentials) error {
	query := `
		INSERT INTO credentials (id, identity, registered, payload, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			identity   = excluded.identity,
			registered = excluded.registered,
			payload    = excluded.payload,
			updated_at = excluded.updated_at
	`

	registered := 0
	if creds.Registered {
		registered = 1
	}
	sealed, err := s.sealer.seal(creds.Payload)
	if err != nil {
		return fmt.Errorf("encrypting credentials payload: %w", err)
	}
	if sealed == nil {
		// nil []byte would be stored as NULL, violating the NOT NULL column.
		sealed = []byte{}
	}

	_, err = s.db.ExecContext(ctx, query,
		creds.Identity,
		registered,
		sealed,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting credentials: %w", err)
	}

	s.logger.Debug("saved credentials", "identity", creds.Identity, "registered", creds.Registered)
	return nil
}

// GetKeys returns the stored values for the requested IDs of one key type.
// Missing IDs are absent from the result, not an error.
func (s *SQLiteStore) GetKeys(ctx context.Context, keyType string, ids []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT value FROM protocol_keys WHERE key_type = ? AND key_id = ?`
	for _, id := range ids {
		var value []byte
		err := s.db.QueryRowContext(ctx, query, keyType, id).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("querying protocol key %s/%s: %w", keyType, id, err)
		}
		result[id] = value
	}

	return result, nil
}

// SetKeys applies a batch of protocol-key updates in one transaction:
// nil values delete the row, everything else upserts.
func (s *SQLiteStore) SetKeys(ctx context.Context, updates KeyUpdates) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := `
		INSERT INTO protocol_keys (key_type, key_id, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key_type, key_id) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`
	del := `DELETE FROM protocol_keys WHERE key_type = ? AND key_id = ?`

	now := time.Now().UTC().Format(time.RFC3339)
	for keyType, byID := range updates {
		for id, value := range byID {
			if value == nil {
				if _, err := tx.ExecContext(ctx, del, keyType, id); err != nil {
					return fmt.Errorf("deleting protocol key %s/%s: %w", keyType, id, err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, upsert, keyType, id, value, now); err != nil {
				return fmt.Errorf("upserting protocol key %s/%s: %w", keyType, id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing key updates: %w", err)
	}

	s.logger.Debug("applied protocol key updates", "types", len(updates))
	return nil
}

// ClearAll deletes the credentials record and every protocol-key row.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM protocol_keys`); err != nil {
		return fmt.Errorf("deleting protocol keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing clear: %w", err)
	}

	s.logger.Info("cleared all stored credentials")
	return nil
}

// GetSessionToken returns the agent resume token for a conversation, or ""
// when none is stored.
func (s *SQLiteStore) GetSessionToken(ctx context.Context, conversationKey string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM session_tokens WHERE conversation_key = ?`,
		conversationKey).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying session token: %w", err)
	}
	return token, nil
}

// SaveSessionToken upserts the agent resume token for a conversation.
func (s *SQLiteStore) SaveSessionToken(ctx context.Context, conversationKey, token string) error {
	query := `
		INSERT INTO session_tokens (conversation_key, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (conversation_key) DO UPDATE SET
			token      = excluded.token,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		conversationKey, token, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting session token: %w", err)
	}

	s.logger.Debug("saved session token", "conversation_key", conversationKey)
	return nil
}

// DeleteSessionToken removes the resume token for a conversation.
func (s *SQLiteStore) DeleteSessionToken(ctx context.Context, conversationKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE conversation_key = ?`, conversationKey); err != nil {
		return fmt.Errorf("deleting session token: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements the store interfaces.
var (
	_ CredentialStore   = (*SQLiteStore)(nil)
	_ SessionTokenStore = (*SQLiteStore)(nil)
)

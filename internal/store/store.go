// ABOUTME: Store interfaces and data types for coven-relay persistence.
// ABOUTME: Defines the credentials record, protocol-key table, and session-token contracts.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Credentials is the single durable identity record for this deployment.
// Absence means "unpaired". The payload is the network client library's
// serialized credential material and is opaque to this store beyond
// serialize/deserialize.
type Credentials struct {
	// Identity is the network account identifier once paired (phone number,
	// user ID). Empty until registration completes.
	Identity string

	// Registered is true once pairing has completed and the payload can
	// resume an authenticated session.
	Registered bool

	// Payload is the client library's opaque credential blob.
	Payload []byte

	UpdatedAt time.Time
}

// KeyUpdates maps keyType -> keyID -> value. A nil value means "delete the
// row"; an empty non-nil value is a legitimate stored value.
type KeyUpdates map[string]map[string][]byte

// CredentialStore persists the credentials record and the rotating
// protocol-key table. Protocol keys are read and written on nearly every
// exchanged message, so implementations are expected to sit behind a cache.
type CredentialStore interface {
	// Load returns the stored credentials, or a fresh unregistered record
	// when none exist. Absence is not an error.
	Load(ctx context.Context) (*Credentials, error)

	// SaveCredentials upserts the single credentials record. Idempotent.
	SaveCredentials(ctx context.Context, creds *Credentials) error

	// GetKeys returns the stored values for the given IDs of one key type.
	// IDs with no row are simply absent from the result.
	GetKeys(ctx context.Context, keyType string, ids []string) (map[string][]byte, error)

	// SetKeys applies a batch of updates across key types: nil values delete,
	// everything else upserts.
	SetKeys(ctx context.Context, updates KeyUpdates) error

	// ClearAll deletes the credentials record and every protocol-key row.
	// Used on logout and explicit disconnect.
	ClearAll(ctx context.Context) error

	Close() error
}

// SessionTokenStore persists the external agent's per-conversation resume
// tokens so a restart does not lose conversational context.
type SessionTokenStore interface {
	// GetSessionToken returns the stored token for a conversation key, or ""
	// when none exists.
	GetSessionToken(ctx context.Context, conversationKey string) (string, error)

	// SaveSessionToken upserts the token for a conversation key.
	SaveSessionToken(ctx context.Context, conversationKey, token string) error

	// DeleteSessionToken removes the token for a conversation key. Removing
	// an absent token is not an error.
	DeleteSessionToken(ctx context.Context, conversationKey string) error
}

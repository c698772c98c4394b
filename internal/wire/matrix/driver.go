// ABOUTME: Matrix driver implementing the wire.Dialer interface via mautrix.
// ABOUTME: Maps stored credentials to a client and password login to the pairing step.

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/store"
	"github.com/2389/coven-relay/internal/wire"
)

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver string
	// Username and Password drive the pairing (login) flow. The
	// resulting access token is persisted; later dials use the token.
	Username string
	Password string
	// AllowedRooms restricts inbound handling; empty means all rooms.
	AllowedRooms []string
}

// credentials is the JSON shape of the sealed credentials payload.
type credentials struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// Dialer opens Matrix sessions from stored credentials.
type Dialer struct {
	cfg    Config
	creds  store.CredentialStore
	logger *slog.Logger
}

var _ wire.Dialer = (*Dialer)(nil)

// NewDialer creates a Matrix dialer backed by the given credential store.
func NewDialer(cfg Config, creds store.CredentialStore, logger *slog.Logger) *Dialer {
	return &Dialer{
		cfg:    cfg,
		creds:  creds,
		logger: logger.With("component", "matrix"),
	}
}

// Dial opens a session with previously stored credentials.
func (d *Dialer) Dial(ctx context.Context, handlers wire.Handlers) (wire.Session, error) {
	rec, err := d.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	if !rec.Registered {
		return nil, fmt.Errorf("no stored credentials, pairing required")
	}

	var c credentials
	if err := json.Unmarshal(rec.Payload, &c); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}

	client, err := mautrix.NewClient(d.cfg.Homeserver, id.UserID(c.UserID), c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	client.DeviceID = id.DeviceID(c.DeviceID)
	client.Store = newSyncStore(d.creds, handlers.OnCredentialUpdate)

	return newSession(client, d.cfg, handlers, d.logger), nil
}

// Pair logs in with username/password and persists the resulting token
// and device id as the credentials record. Matrix has no scannable
// pairing code, so callbacks.OnQR never fires for this driver.
func (d *Dialer) Pair(ctx context.Context, callbacks wire.PairingCallbacks, handlers wire.Handlers) (wire.Session, error) {
	client, err := mautrix.NewClient(d.cfg.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: d.cfg.Username,
		},
		Password:         d.cfg.Password,
		StoreCredentials: true,
	})
	if err != nil {
		return nil, fmt.Errorf("matrix login: %w", err)
	}

	payload, err := json.Marshal(credentials{
		UserID:      resp.UserID.String(),
		AccessToken: resp.AccessToken,
		DeviceID:    resp.DeviceID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding credentials: %w", err)
	}

	if err := d.creds.SaveCredentials(ctx, &store.Credentials{
		Identity:   resp.UserID.String(),
		Registered: true,
		Payload:    payload,
	}); err != nil {
		return nil, fmt.Errorf("persisting credentials: %w", err)
	}

	d.logger.Info("paired with homeserver",
		"user_id", resp.UserID.String(),
		"device_id", resp.DeviceID.String(),
	)

	if callbacks.OnConnected != nil {
		callbacks.OnConnected(resp.UserID.String())
	}

	client.Store = newSyncStore(d.creds, handlers.OnCredentialUpdate)
	return newSession(client, d.cfg, handlers, d.logger), nil
}

// ABOUTME: mautrix SyncStore adapter backed by the protocol key table.
// ABOUTME: Persists filter ids and sync tokens so sessions resume without replaying history.

package matrix

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/store"
)

// Protocol key types used by the sync store.
const (
	keyTypeFilter = "filter"
	keyTypeSync   = "sync"
)

// syncStore persists mautrix sync state through the credential store's
// keyed table, so it rotates and clears with the rest of the session
// material. Rotation notifies the connection layer through onUpdate.
type syncStore struct {
	creds    store.CredentialStore
	onUpdate func()
}

var _ mautrix.SyncStore = (*syncStore)(nil)

func newSyncStore(creds store.CredentialStore, onUpdate func()) *syncStore {
	return &syncStore{creds: creds, onUpdate: onUpdate}
}

func (s *syncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.set(ctx, keyTypeFilter, userID.String(), []byte(filterID))
}

func (s *syncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, keyTypeFilter, userID.String())
}

func (s *syncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.set(ctx, keyTypeSync, userID.String(), []byte(nextBatchToken))
}

func (s *syncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, keyTypeSync, userID.String())
}

func (s *syncStore) set(ctx context.Context, keyType, keyID string, value []byte) error {
	err := s.creds.SetKeys(ctx, store.KeyUpdates{keyType: {keyID: value}})
	if err == nil && s.onUpdate != nil {
		s.onUpdate()
	}
	return err
}

func (s *syncStore) get(ctx context.Context, keyType, keyID string) (string, error) {
	values, err := s.creds.GetKeys(ctx, keyType, []string{keyID})
	if err != nil {
		return "", err
	}
	return string(values[keyID]), nil
}

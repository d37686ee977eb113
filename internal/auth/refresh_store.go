package auth

import (
	"context"
	"sync"
)

// RefreshStore persists at most one refresh token hash per user.
type RefreshStore interface {
	// Upsert replaces the stored hash for uid.
	Upsert(ctx context.Context, uid, tokenHash string) error
	// Lookup returns the stored hash for uid, or ErrNoRefreshToken.
	Lookup(ctx context.Context, uid string) (string, error)
	// Delete removes the stored hash for uid. Deleting an absent entry returns ErrNoRefreshToken.
	Delete(ctx context.Context, uid string) error
}

// MemoryRefreshStore keeps refresh token hashes in process memory.
type MemoryRefreshStore struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewMemoryRefreshStore returns an empty in-memory RefreshStore.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{hashes: make(map[string]string)}
}

func (m *MemoryRefreshStore) Upsert(_ context.Context, uid, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[uid] = tokenHash
	return nil
}

func (m *MemoryRefreshStore) Lookup(_ context.Context, uid string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[uid]
	if !ok {
		return "", ErrNoRefreshToken
	}
	return h, nil
}

func (m *MemoryRefreshStore) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[uid]; !ok {
		return ErrNoRefreshToken
	}
	delete(m.hashes, uid)
	return nil
}

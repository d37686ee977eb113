package users

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Tyrowin/presencehub/internal/auth"
)

type memoryUser struct {
	identity auth.Identity
	hash     string
}

// MemoryStore keeps accounts in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	hasher *Hasher
	byUID  map[string]*memoryUser
	byName map[string]*memoryUser
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(hasher *Hasher) *MemoryStore {
	if hasher == nil {
		hasher = NewHasher(0)
	}
	return &MemoryStore{
		hasher: hasher,
		byUID:  make(map[string]*memoryUser),
		byName: make(map[string]*memoryUser),
	}
}

func (m *MemoryStore) VerifyCredentials(_ context.Context, name, password string) (auth.Identity, error) {
	m.mu.RLock()
	u, ok := m.byName[name]
	var (
		identity auth.Identity
		hash     string
	)
	if ok {
		identity, hash = u.identity, u.hash
	}
	m.mu.RUnlock()

	// bcrypt runs outside the lock
	if !ok || m.hasher.Compare(hash, password) != nil {
		return auth.Identity{}, ErrInvalidCredentials
	}
	return identity, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, name, password string) (auth.Identity, error) {
	name, err := normalizeCredentials(name, password)
	if err != nil {
		return auth.Identity{}, err
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return auth.Identity{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byName[name]; taken {
		return auth.Identity{}, ErrNameTaken
	}
	u := &memoryUser{
		identity: auth.Identity{Name: name, UID: uuid.NewString(), Rights: DefaultRights},
		hash:     hash,
	}
	m.byUID[u.identity.UID] = u
	m.byName[name] = u
	return u.identity, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, uid string, patch Patch) error {
	patch, err := validatePatch(patch)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byUID[uid]
	if !ok {
		return ErrNotFound
	}
	if m.hasher.Compare(u.hash, patch.OldPassword) != nil {
		return ErrWrongPassword
	}
	if patch.NewName != "" && patch.NewName != u.identity.Name {
		if _, taken := m.byName[patch.NewName]; taken {
			return ErrNameTaken
		}
		delete(m.byName, u.identity.Name)
		u.identity.Name = patch.NewName
		m.byName[patch.NewName] = u
	}
	if patch.NewPassword != "" {
		hash, err := m.hasher.Hash(patch.NewPassword)
		if err != nil {
			return err
		}
		u.hash = hash
	}
	return nil
}

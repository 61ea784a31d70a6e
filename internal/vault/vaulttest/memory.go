// Package vaulttest provides an in-memory vault.Store for tests.
package vaulttest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuomag9/creator-connect/internal/vault"
)

// ErrInjected is returned by operations configured to fail.
var ErrInjected = errors.New("injected vault failure")

type entry struct {
	secret vault.Secret
	value  string
}

// MemoryStore is a vault.Store backed by a map. Failure injection fields may
// be set before use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	creates int

	// FailCreateAt makes the n-th CreateSecret call (1-based) fail. Zero disables.
	FailCreateAt int
	// FailDelete makes every DeleteSecret call fail.
	FailDelete bool
	// Now stamps CreatedAt; defaults to time.Now.
	Now func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

func (m *MemoryStore) CreateSecret(_ context.Context, value, name, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creates++
	if m.FailCreateAt != 0 && m.creates == m.FailCreateAt {
		return "", ErrInjected
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	id := uuid.NewString()
	m.entries[id] = entry{
		secret: vault.Secret{ID: id, Name: name, CreatedAt: now()},
		value:  value,
	}
	return id, nil
}

func (m *MemoryStore) DeleteSecret(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDelete {
		return ErrInjected
	}
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) ListSecrets(_ context.Context, namePrefix string) ([]vault.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	secrets := []vault.Secret{}
	for _, e := range m.entries {
		if strings.HasPrefix(e.secret.Name, namePrefix) {
			secrets = append(secrets, e.secret)
		}
	}
	sort.Slice(secrets, func(i, j int) bool { return secrets[i].CreatedAt.Before(secrets[j].CreatedAt) })
	return secrets, nil
}

// Value returns the stored value for id.
func (m *MemoryStore) Value(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e.value, ok
}

// Len returns the number of stored secrets.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Creates returns the number of CreateSecret calls, failed ones included.
func (m *MemoryStore) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

var _ vault.Store = (*MemoryStore)(nil)

package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leonaii/kirocloud/internal/models"
)

// MemoryStore provides an in-memory account repository. It is thread-safe
// and supports concurrent access. A host application replaces it with its
// own persistent repository.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account

	machineOnce sync.Once
	machineID   string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*models.Account),
	}
}

// GetAccount retrieves an account by ID.
func (s *MemoryStore) GetAccount(id string) (*models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return acc, true
}

// SetAccount stores or updates an account.
func (s *MemoryStore) SetAccount(acc *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	acc.UpdatedAt = time.Now()
	s.accounts[acc.ID] = acc
}

// DeleteAccount removes an account.
func (s *MemoryStore) DeleteAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return false
	}
	delete(s.accounts, id)
	return true
}

// ListAccounts returns all accounts ordered by ID.
func (s *MemoryStore) ListAccounts() []*models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		result = append(result, acc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// MachineID returns a process-stable identifier.
func (s *MemoryStore) MachineID() (string, error) {
	s.machineOnce.Do(func() {
		s.machineID = uuid.NewString()
	})
	return s.machineID, nil
}

var _ Store = (*MemoryStore)(nil)

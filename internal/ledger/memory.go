package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cashforge/internal/economy"
)

// MemoryStore keeps accounts in process. Used by tests and the demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	invites  map[string]string
	txs      map[string][]Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]Account{},
		invites:  map[string]string{},
		txs:      map[string][]Transaction{},
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, acct.ID)
	}
	if acct.InviteCode != "" {
		if _, ok := m.invites[acct.InviteCode]; ok {
			return fmt.Errorf("%w: invite code %s taken", ErrAccountExists, acct.InviteCode)
		}
		m.invites[acct.InviteCode] = acct.ID
	}
	m.accounts[acct.ID] = acct.Clone()
	return nil
}

func (m *MemoryStore) LoadAccount(_ context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: account %s", economy.ErrNotFound, id)
	}
	return acct.Clone(), nil
}

func (m *MemoryStore) FindByInviteCode(ctx context.Context, code string) (Account, error) {
	m.mu.RLock()
	id, ok := m.invites[code]
	m.mu.RUnlock()
	if !ok {
		return Account{}, fmt.Errorf("%w: invite code %s", economy.ErrNotFound, code)
	}
	return m.LoadAccount(ctx, id)
}

func (m *MemoryStore) Commit(_ context.Context, acct Account, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[acct.ID]
	if !ok {
		return fmt.Errorf("%w: account %s", economy.ErrNotFound, acct.ID)
	}
	if cur.Version != acct.Version-1 {
		return fmt.Errorf("%w: %s at version %d", ErrConflict, acct.ID, cur.Version)
	}
	m.accounts[acct.ID] = acct.Clone()
	if tx != nil {
		m.txs[acct.ID] = append(m.txs[acct.ID], *tx)
	}
	return nil
}

// ListTransactions returns the newest transactions first.
func (m *MemoryStore) ListTransactions(_ context.Context, accountID string, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.txs[accountID]
	out := make([]Transaction, 0, min(len(all), limit))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) ListAccountIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

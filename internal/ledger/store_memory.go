package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local tooling.
// A single mutex makes every Settle call atomic.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	byCode   map[string]Transaction
	codeByID map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]Account{},
		byCode:   map[string]Transaction{},
		codeByID: map[string]string{},
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, userID string, now time.Time) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		return a, nil
	}
	a := Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	m.accounts[userID] = a
	return a, nil
}

// SeedAccount sets a starting balance, bypassing settlement. Test fixtures only.
func (m *MemoryStore) SeedAccount(userID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.accounts[userID] = Account{UserID: userID, Balance: balance, CreatedAt: now, UpdatedAt: now}
}

func (m *MemoryStore) GetAccount(_ context.Context, userID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return Account{}, notFound("account", userID)
	}
	return a, nil
}

func (m *MemoryStore) InsertTransaction(_ context.Context, txn Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCode[txn.Code]; ok {
		return ErrDuplicateCode
	}
	if _, ok := m.accounts[txn.UserID]; !ok {
		return notFound("account", txn.UserID)
	}
	m.byCode[txn.Code] = cloneTxn(txn)
	m.codeByID[txn.ID] = txn.Code
	return nil
}

func (m *MemoryStore) GetTransactionByCode(_ context.Context, code string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCode[code]
	if !ok {
		return Transaction{}, notFound("transaction", code)
	}
	return cloneTxn(t), nil
}

func (m *MemoryStore) GetTransactionByID(_ context.Context, id string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codeByID[id]
	if !ok {
		return Transaction{}, notFound("transaction", id)
	}
	return cloneTxn(m.byCode[code]), nil
}

func (m *MemoryStore) FindTransactionByRefund(_ context.Context, refundID string) (Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		out   Transaction
		found bool
	)
	for _, t := range m.byCode {
		if t.RefundID != refundID {
			continue
		}
		if !found || t.CreatedAt.After(out.CreatedAt) {
			out, found = t, true
		}
	}
	return cloneTxn(out), found, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, f ListFilter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, 0)
	for _, t := range m.byCode {
		if f.matches(t) {
			out = append(out, cloneTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code > out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Offset >= len(out) {
		return []Transaction{}, nil
	}
	out = out[f.Offset:]
	if n := f.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) Settle(_ context.Context, code string, fn SettleFunc) (Transaction, Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.byCode[code]
	if !ok {
		return Transaction{}, Account{}, notFound("transaction", code)
	}
	acct, ok := m.accounts[txn.UserID]
	if !ok {
		return Transaction{}, Account{}, notFound("account", txn.UserID)
	}
	if txn.Status.Terminal() {
		return cloneTxn(txn), acct, ErrAlreadyTerminal
	}

	nextTxn, nextAcct, err := fn(cloneTxn(txn), acct)
	if err != nil {
		return cloneTxn(txn), acct, err
	}
	if nextAcct.Balance < 0 {
		return cloneTxn(txn), acct, ErrInvalidArgument
	}
	m.byCode[code] = cloneTxn(nextTxn)
	m.accounts[acct.UserID] = nextAcct
	return cloneTxn(nextTxn), nextAcct, nil
}

// cloneTxn detaches pointer fields so callers cannot mutate stored rows.
func cloneTxn(t Transaction) Transaction {
	if t.BalanceAfter != nil {
		v := *t.BalanceAfter
		t.BalanceAfter = &v
	}
	if t.SettledAt != nil {
		v := *t.SettledAt
		t.SettledAt = &v
	}
	return t
}

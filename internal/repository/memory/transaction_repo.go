package memory

import (
	"context"
	"fmt"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"sort"
	"sync"
)

// TransactionRepository keeps transactions in load order with a per-account
// index that is sorted lazily on first read.
type TransactionRepository struct {
	mu           sync.RWMutex
	transactions []*domain.Transaction
	byID         map[string]*domain.Transaction
	index        map[string][]*domain.Transaction
	accountOrder []string
	sorted       map[string]bool
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		byID:   make(map[string]*domain.Transaction),
		index:  make(map[string][]*domain.Transaction),
		sorted: make(map[string]bool),
	}
}

func (r *TransactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Duplicate IDs are kept as separate rows; the validator reports them.
	if _, exists := r.byID[tx.ID]; !exists && tx.ID != "" {
		r.byID[tx.ID] = tx
	}

	r.transactions = append(r.transactions, tx)

	if _, exists := r.index[tx.AccountID]; !exists {
		r.accountOrder = append(r.accountOrder, tx.AccountID)
	}
	r.index[tx.AccountID] = append(r.index[tx.AccountID], tx)
	r.sorted[tx.AccountID] = false

	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, exists := r.byID[id]
	if !exists {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	return tx, nil
}

func (r *TransactionRepository) GetByAccountID(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	r.mu.RLock()
	txs, exists := r.index[accountID]
	ready := r.sorted[accountID]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, accountID)
	}
	if ready {
		return txs, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	txs = r.index[accountID]
	if !r.sorted[accountID] {
		sort.SliceStable(txs, func(i, j int) bool {
			return timestampLess(txs[i], txs[j])
		})
		r.sorted[accountID] = true
	}

	return txs, nil
}

func (r *TransactionRepository) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transactions, nil
}

// AccountIDs returns accounts in order of first appearance.
func (r *TransactionRepository) AccountIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.accountOrder))
	copy(result, r.accountOrder)
	return result, nil
}

func (r *TransactionRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transactions), nil
}

func timestampLess(a, b *domain.Transaction) bool {
	switch {
	case a.Timestamp.IsZero():
		return false
	case b.Timestamp.IsZero():
		return true
	default:
		return a.Timestamp.Before(b.Timestamp)
	}
}

package memory

import (
	"context"
	"fmt"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"sync"
)

type LabelRepository struct {
	mu           sync.RWMutex
	labels       map[string]*domain.Label
	order        []string
	testAccounts []string
}

func NewLabelRepository() *LabelRepository {
	return &LabelRepository{
		labels: make(map[string]*domain.Label),
	}
}

func (r *LabelRepository) Save(ctx context.Context, label *domain.Label) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.labels[label.AccountID]; exists {
		return fmt.Errorf("%w: label for account %s", repository.ErrDuplicate, label.AccountID)
	}

	r.labels[label.AccountID] = label
	r.order = append(r.order, label.AccountID)
	return nil
}

func (r *LabelRepository) GetByAccountID(ctx context.Context, accountID string) (*domain.Label, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	label, exists := r.labels[accountID]
	if !exists {
		return nil, fmt.Errorf("%w: label for account %s", repository.ErrNotFound, accountID)
	}
	return label, nil
}

func (r *LabelRepository) GetAll(ctx context.Context) ([]*domain.Label, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Label, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.labels[id])
	}
	return result, nil
}

func (r *LabelRepository) GetMules(ctx context.Context) ([]*domain.Label, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Label
	for _, id := range r.order {
		if label := r.labels[id]; label.Mule() {
			result = append(result, label)
		}
	}
	return result, nil
}

func (r *LabelRepository) SaveTestAccount(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.testAccounts = append(r.testAccounts, accountID)
	return nil
}

func (r *LabelRepository) TestAccounts(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.testAccounts))
	copy(result, r.testAccounts)
	return result, nil
}

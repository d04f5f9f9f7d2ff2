package memory

import (
	"context"
	"fmt"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"sort"
	"sync"
)

type RuleRepository struct {
	mu    sync.RWMutex
	rules map[string]*domain.Rule
}

func NewRuleRepository() *RuleRepository {
	return &RuleRepository{
		rules: make(map[string]*domain.Rule),
	}
}

func (r *RuleRepository) Save(ctx context.Context, rule *domain.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[rule.ID]; exists {
		return fmt.Errorf("%w: rule %s", repository.ErrDuplicate, rule.ID)
	}

	rule.Version = 1
	r.rules[rule.ID] = rule

	return nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, exists := r.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: rule %s", repository.ErrNotFound, id)
	}
	return rule, nil
}

// GetActiveRules returns active rules by descending priority, ties by ID.
func (r *RuleRepository) GetActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Rule
	for _, rule := range r.rules {
		if rule.IsActive {
			result = append(result, rule)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

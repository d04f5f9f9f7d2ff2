package memory

import (
	"context"
	"fmt"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"sync"
)

// CustomerRepository stores customers together with the linkage and
// product tables, which are only ever read through a customer.
type CustomerRepository struct {
	mu               sync.RWMutex
	customers        map[string]*domain.Customer
	order            []string
	accountCustomers map[string][]string
	customerAccounts map[string][]string
	customerProducts map[string][]*domain.Product
}

func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{
		customers:        make(map[string]*domain.Customer),
		accountCustomers: make(map[string][]string),
		customerAccounts: make(map[string][]string),
		customerProducts: make(map[string][]*domain.Product),
	}
}

func (r *CustomerRepository) Save(ctx context.Context, customer *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.customers[customer.ID]; exists {
		return fmt.Errorf("%w: customer %s", repository.ErrDuplicate, customer.ID)
	}

	r.customers[customer.ID] = customer
	r.order = append(r.order, customer.ID)
	return nil
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, exists := r.customers[id]
	if !exists {
		return nil, fmt.Errorf("%w: customer %s", repository.ErrNotFound, id)
	}
	return customer, nil
}

func (r *CustomerRepository) GetAll(ctx context.Context) ([]*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Customer, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.customers[id])
	}
	return result, nil
}

func (r *CustomerRepository) Link(ctx context.Context, link domain.Linkage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accountCustomers[link.AccountID] = append(r.accountCustomers[link.AccountID], link.CustomerID)
	r.customerAccounts[link.CustomerID] = append(r.customerAccounts[link.CustomerID], link.AccountID)
	return nil
}

func (r *CustomerRepository) CustomersForAccount(ctx context.Context, accountID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, exists := r.accountCustomers[accountID]
	if !exists {
		return nil, fmt.Errorf("%w: linkage for account %s", repository.ErrNotFound, accountID)
	}
	return ids, nil
}

func (r *CustomerRepository) AccountsForCustomer(ctx context.Context, customerID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, exists := r.customerAccounts[customerID]
	if !exists {
		return nil, fmt.Errorf("%w: linkage for customer %s", repository.ErrNotFound, customerID)
	}
	return ids, nil
}

func (r *CustomerRepository) SaveProduct(ctx context.Context, product *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.customerProducts[product.CustomerID] = append(r.customerProducts[product.CustomerID], product)
	return nil
}

func (r *CustomerRepository) ProductsForCustomer(ctx context.Context, customerID string) ([]*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	products, exists := r.customerProducts[customerID]
	if !exists {
		return nil, fmt.Errorf("%w: products for customer %s", repository.ErrNotFound, customerID)
	}
	return products, nil
}

package repository

import (
	"context"
	"errors"
	"mule_analyzer/internal/domain"
)

type TransactionRepository interface {
	Save(ctx context.Context, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// GetByAccountID returns the account's transactions ordered by
	// timestamp, undated rows last.
	GetByAccountID(ctx context.Context, accountID string) ([]*domain.Transaction, error)
	GetAll(ctx context.Context) ([]*domain.Transaction, error)
	AccountIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

type AccountRepository interface {
	Save(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetAll(ctx context.Context) ([]*domain.Account, error)
	Count(ctx context.Context) (int, error)
}

type CustomerRepository interface {
	Save(ctx context.Context, customer *domain.Customer) error
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
	GetAll(ctx context.Context) ([]*domain.Customer, error)
	Link(ctx context.Context, link domain.Linkage) error
	// CustomersForAccount returns linked customer IDs in linkage file order.
	CustomersForAccount(ctx context.Context, accountID string) ([]string, error)
	AccountsForCustomer(ctx context.Context, customerID string) ([]string, error)
	SaveProduct(ctx context.Context, product *domain.Product) error
	// ProductsForCustomer returns every product row of the customer in file order.
	ProductsForCustomer(ctx context.Context, customerID string) ([]*domain.Product, error)
}

type LabelRepository interface {
	Save(ctx context.Context, label *domain.Label) error
	GetByAccountID(ctx context.Context, accountID string) (*domain.Label, error)
	// GetAll returns labels in file order.
	GetAll(ctx context.Context) ([]*domain.Label, error)
	// GetMules returns the mule labels in file order.
	GetMules(ctx context.Context) ([]*domain.Label, error)
	SaveTestAccount(ctx context.Context, accountID string) error
	TestAccounts(ctx context.Context) ([]string, error)
}

type RuleRepository interface {
	Save(ctx context.Context, rule *domain.Rule) error
	GetByID(ctx context.Context, id string) (*domain.Rule, error)
	GetActiveRules(ctx context.Context) ([]*domain.Rule, error)
}

// FeatureRepository persists per-account feature rows for modelling.
type FeatureRepository interface {
	SaveFeatures(ctx context.Context, runID string, rows []domain.FeatureRow) error
	GetFeatures(ctx context.Context, runID, accountID string) (*domain.FeatureRow, error)
	Close() error
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

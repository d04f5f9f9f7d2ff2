package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"mule_analyzer/internal/repository/memory"
	"mule_analyzer/pkg/validator"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrMissingFile    = errors.New("missing input file")
	ErrMissingColumn  = errors.New("missing required column")
	ErrMalformedValue = errors.New("malformed value")
)

// Input file names, without compression suffix.
const (
	CustomersFile    = "customers.csv"
	AccountsFile     = "accounts.csv"
	LinkageFile      = "customer_account_linkage.csv"
	ProductsFile     = "product_details.csv"
	LabelsFile       = "train_labels.csv"
	TestAccountsFile = "test_accounts.csv"
)

func TransactionShardFile(i int) string {
	return fmt.Sprintf("transactions_part_%d.csv", i)
}

// Options controls a load.
type Options struct {
	Shards          int
	Workers         int
	StrictDirection bool
	// StrictDuplicates fails the load on a repeated transaction ID.
	StrictDuplicates bool
}

// Dataset is the fully loaded, read-only input of an analysis run.
type Dataset struct {
	Accounts     repository.AccountRepository
	Customers    repository.CustomerRepository
	Labels       repository.LabelRepository
	Transactions repository.TransactionRepository
	// Tables lists per-table stats in overview order.
	Tables     []*TableStats
	Validation validator.Summary
}

// Table returns the stats of the named table, or nil.
func (d *Dataset) Table(name string) *TableStats {
	for _, t := range d.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

type Loader struct {
	src       Source
	opts      Options
	validator *validator.DatasetValidator
	logger    *slog.Logger
}

func NewLoader(src Source, opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Shards < 1 {
		opts.Shards = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Loader{
		src:       src,
		opts:      opts,
		validator: validator.NewDatasetValidator(),
		logger:    logger,
	}
}

// parsed holds the rows of every table before they are stored, so that
// concurrent reads can be committed in a fixed order.
type parsed struct {
	customers []*domain.Customer
	accounts  []*domain.Account
	linkage   []domain.Linkage
	products  []*domain.Product
	labels    []*domain.Label
	tests     []string
	shards    [][]*domain.Transaction

	customerStats, accountStats, linkageStats, productStats *TableStats
	labelStats, testStats                                   *TableStats
	shardStats                                              []*TableStats
}

// Load reads all seven inputs concurrently and stores them in memory
// repositories. Transaction shards are concatenated in shard order.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	start := time.Now()
	l.logger.Info("Loading dataset", slog.String("source", l.src.String()), slog.Int("shards", l.opts.Shards))

	p := &parsed{
		shards:     make([][]*domain.Transaction, l.opts.Shards),
		shardStats: make([]*TableStats, l.opts.Shards),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)

	g.Go(func() (err error) {
		p.customers, p.customerStats, err = readCustomers(gctx, l.src)
		return err
	})
	g.Go(func() (err error) {
		p.accounts, p.accountStats, err = readAccounts(gctx, l.src)
		return err
	})
	g.Go(func() (err error) {
		p.linkage, p.linkageStats, err = readLinkage(gctx, l.src)
		return err
	})
	g.Go(func() (err error) {
		p.products, p.productStats, err = readProducts(gctx, l.src)
		return err
	})
	g.Go(func() (err error) {
		p.labels, p.labelStats, err = readLabels(gctx, l.src, l.validator)
		return err
	})
	g.Go(func() (err error) {
		p.tests, p.testStats, err = readTestAccounts(gctx, l.src)
		return err
	})
	for i := 0; i < l.opts.Shards; i++ {
		i := i
		g.Go(func() (err error) {
			p.shards[i], p.shardStats[i], err = readTransactions(gctx, l.src, TransactionShardFile(i))
			return err
		})
	}

	if err := g.Wait(); err != nil {
		l.logger.Error("Dataset load failed", slog.String("error", err.Error()))
		return nil, err
	}

	ds, err := l.commit(ctx, p)
	if err != nil {
		l.logger.Error("Dataset load failed", slog.String("error", err.Error()))
		return nil, err
	}

	txCount, err := ds.Transactions.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	l.logger.Info("Dataset loaded",
		slog.Int("transactions", txCount),
		slog.Int("labels", len(p.labels)),
		slog.Duration("duration", time.Since(start)))

	return ds, nil
}

func (l *Loader) commit(ctx context.Context, p *parsed) (*Dataset, error) {
	accounts := memory.NewAccountRepository()
	customers := memory.NewCustomerRepository()
	labels := memory.NewLabelRepository()
	transactions := memory.NewTransactionRepository()

	for _, c := range p.customers {
		if err := customers.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("%s: %w", CustomersFile, err)
		}
	}
	for _, a := range p.accounts {
		if err := accounts.Save(ctx, a); err != nil {
			return nil, fmt.Errorf("%s: %w", AccountsFile, err)
		}
	}
	for _, link := range p.linkage {
		if err := customers.Link(ctx, link); err != nil {
			return nil, fmt.Errorf("%s: %w", LinkageFile, err)
		}
	}
	for _, prod := range p.products {
		if err := customers.SaveProduct(ctx, prod); err != nil {
			return nil, fmt.Errorf("%s: %w", ProductsFile, err)
		}
	}
	for _, lbl := range p.labels {
		if err := labels.Save(ctx, lbl); err != nil {
			return nil, fmt.Errorf("%s: %w", LabelsFile, err)
		}
	}
	for _, id := range p.tests {
		if err := labels.SaveTestAccount(ctx, id); err != nil {
			return nil, fmt.Errorf("%s: %w", TestAccountsFile, err)
		}
	}

	txStats := &TableStats{Name: "transactions", File: "transactions_part_*.csv", Missing: make(map[string]int)}
	for i, shard := range p.shards {
		txStats.merge(p.shardStats[i])
		for _, tx := range shard {
			if err := l.validator.ValidateTransaction(tx); err != nil {
				if l.opts.StrictDirection && errors.Is(err, validator.ErrDirectionMismatch) {
					return nil, fmt.Errorf("%s: %w", TransactionShardFile(i), err)
				}
				if l.opts.StrictDuplicates && errors.Is(err, validator.ErrDuplicateTransaction) {
					return nil, fmt.Errorf("%s: %w", TransactionShardFile(i), err)
				}
			}
			if err := transactions.Save(ctx, tx); err != nil {
				return nil, fmt.Errorf("%s: %w", TransactionShardFile(i), err)
			}
		}
	}

	summary := l.validator.Summary()
	for _, kind := range summary.Kinds() {
		l.logger.Warn("Validation issues found",
			slog.String("kind", kind),
			slog.Int("count", summary.Counts[kind]),
			slog.String("samples", strings.Join(summary.Samples[kind], ",")))
	}

	return &Dataset{
		Accounts:     accounts,
		Customers:    customers,
		Labels:       labels,
		Transactions: transactions,
		Tables: []*TableStats{
			p.customerStats, p.accountStats, txStats, p.linkageStats,
			p.productStats, p.labelStats, p.testStats,
		},
		Validation: summary,
	}, nil
}

func withTable(ctx context.Context, src Source, name, file string, required []string, fn func(t *table) error) (*TableStats, error) {
	rc, resolved, err := openTable(ctx, src, file)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	t, err := newTable(name, resolved, rc, required)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.stats, nil
}

var customerColumns = map[string]bool{
	"customer_id": true, "date_of_birth": true, "relationship_start_date": true, "customer_pin": true,
}

func readCustomers(ctx context.Context, src Source) ([]*domain.Customer, *TableStats, error) {
	var out []*domain.Customer
	stats, err := withTable(ctx, src, "customers", CustomersFile, []string{"customer_id"}, func(t *table) error {
		return t.each(func(r row) error {
			out = append(out, &domain.Customer{
				ID:                    r.str("customer_id"),
				DateOfBirth:           r.date("date_of_birth"),
				RelationshipStartDate: r.date("relationship_start_date"),
				CustomerPin:           normalizeCode(r.str("customer_pin")),
				Flags:                 r.extras(customerColumns),
			})
			return nil
		})
	})
	return out, stats, err
}

var accountColumns = map[string]bool{
	"account_id": true, "account_opening_date": true, "last_mobile_update_date": true,
	"last_kyc_date": true, "freeze_date": true, "unfreeze_date": true,
	"avg_balance": true, "monthly_avg_balance": true, "quarterly_avg_balance": true,
	"daily_avg_balance": true, "account_status": true, "product_family": true,
	"branch_code": true, "branch_pin": true,
}

func readAccounts(ctx context.Context, src Source) ([]*domain.Account, *TableStats, error) {
	var out []*domain.Account
	stats, err := withTable(ctx, src, "accounts", AccountsFile, []string{"account_id"}, func(t *table) error {
		return t.each(func(r row) error {
			out = append(out, &domain.Account{
				ID:                   r.str("account_id"),
				OpeningDate:          r.date("account_opening_date"),
				LastMobileUpdateDate: r.date("last_mobile_update_date"),
				LastKYCDate:          r.date("last_kyc_date"),
				FreezeDate:           r.date("freeze_date"),
				UnfreezeDate:         r.date("unfreeze_date"),
				AvgBalance:           r.optFloat("avg_balance"),
				MonthlyAvgBalance:    r.optFloat("monthly_avg_balance"),
				QuarterlyAvgBalance:  r.optFloat("quarterly_avg_balance"),
				DailyAvgBalance:      r.optFloat("daily_avg_balance"),
				Status:               domain.AccountStatus(strings.ToLower(r.str("account_status"))),
				ProductFamily:        r.str("product_family"),
				BranchCode:           normalizeCode(r.str("branch_code")),
				BranchPin:            normalizeCode(r.str("branch_pin")),
				Flags:                r.extras(accountColumns),
			})
			return nil
		})
	})
	return out, stats, err
}

func readLinkage(ctx context.Context, src Source) ([]domain.Linkage, *TableStats, error) {
	var out []domain.Linkage
	stats, err := withTable(ctx, src, "linkage", LinkageFile, []string{"customer_id", "account_id"}, func(t *table) error {
		return t.each(func(r row) error {
			out = append(out, domain.Linkage{CustomerID: r.str("customer_id"), AccountID: r.str("account_id")})
			return nil
		})
	})
	return out, stats, err
}

func readProducts(ctx context.Context, src Source) ([]*domain.Product, *TableStats, error) {
	var out []*domain.Product
	stats, err := withTable(ctx, src, "products", ProductsFile, []string{"customer_id"}, func(t *table) error {
		return t.each(func(r row) error {
			out = append(out, &domain.Product{
				CustomerID:    r.str("customer_id"),
				ProductFamily: r.str("product_family"),
				LoanSum:       r.optFloat("loan_sum"),
				CCSum:         r.optFloat("cc_sum"),
				ODSum:         r.optFloat("od_sum"),
				SASum:         r.optFloat("sa_sum"),
			})
			return nil
		})
	})
	return out, stats, err
}

func readLabels(ctx context.Context, src Source, v *validator.DatasetValidator) ([]*domain.Label, *TableStats, error) {
	var out []*domain.Label
	stats, err := withTable(ctx, src, "train_labels", LabelsFile, []string{"account_id", "is_mule"}, func(t *table) error {
		return t.each(func(r row) error {
			isMule, err := r.int("is_mule")
			if err != nil {
				return fmt.Errorf("%w: %w", validator.ErrInvalidLabel, err)
			}
			label := &domain.Label{
				AccountID:       r.str("account_id"),
				IsMule:          isMule,
				AlertReason:     r.str("alert_reason"),
				MuleFlagDate:    r.date("mule_flag_date"),
				FlaggedByBranch: normalizeCode(r.str("flagged_by_branch")),
			}
			if err := v.ValidateLabel(label); err != nil {
				return fmt.Errorf("file=%s line=%d: %w", t.file, r.line, err)
			}
			out = append(out, label)
			return nil
		})
	})
	return out, stats, err
}

func readTestAccounts(ctx context.Context, src Source) ([]string, *TableStats, error) {
	var out []string
	stats, err := withTable(ctx, src, "test_accounts", TestAccountsFile, []string{"account_id"}, func(t *table) error {
		return t.each(func(r row) error {
			out = append(out, r.str("account_id"))
			return nil
		})
	})
	return out, stats, err
}

var transactionRequired = []string{"transaction_id", "account_id", "amount", "txn_type", "transaction_timestamp"}

func readTransactions(ctx context.Context, src Source, file string) ([]*domain.Transaction, *TableStats, error) {
	var out []*domain.Transaction
	stats, err := withTable(ctx, src, "transactions", file, transactionRequired, func(t *table) error {
		return t.each(func(r row) error {
			amount, err := r.float("amount")
			if err != nil {
				return err
			}
			out = append(out, &domain.Transaction{
				ID:             r.str("transaction_id"),
				AccountID:      r.str("account_id"),
				CounterpartyID: r.str("counterparty_id"),
				Amount:         amount,
				Type:           domain.TransactionType(strings.ToUpper(r.str("txn_type"))),
				Channel:        r.str("channel"),
				Timestamp:      r.date("transaction_timestamp"),
			})
			return nil
		})
	})
	return out, stats, err
}

// normalizeCode strips the ".0" a float export leaves on integer codes so
// that pins and branch codes compare as text.
func normalizeCode(v string) string {
	return strings.TrimSuffix(v, ".0")
}

package loader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mule_analyzer/internal/domain"
	"mule_analyzer/pkg/validator"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// writeFixture lays out a minimal valid dataset with two transaction shards.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, CustomersFile,
		"customer_id,date_of_birth,relationship_start_date,customer_pin,pan_available",
		"C1,1990-01-15,2015-03-01,110001,Y",
		"C2,not-a-date,,560001.0,N",
	)
	writeFile(t, dir, AccountsFile,
		"account_id,account_opening_date,last_mobile_update_date,avg_balance,account_status,product_family,branch_code,branch_pin,kyc_compliant",
		"A1,2024-12-01,2025-01-10,1500.5,active,SA,B1,110001,Y",
		"A2,2019-05-05,,oops,frozen,CA,B2,400001,N",
	)
	writeFile(t, dir, LinkageFile,
		"customer_id,account_id",
		"C1,A1",
		"C2,A2",
	)
	writeFile(t, dir, ProductsFile,
		"customer_id,product_family,loan_sum,cc_sum,od_sum,sa_sum",
		"C1,SA,0,,0,1200",
	)
	writeFile(t, dir, LabelsFile,
		"account_id,is_mule,alert_reason,mule_flag_date,flagged_by_branch",
		"A1,1,Rapid movement,2025-03-01,B1",
		"A2,0,,,",
	)
	writeFile(t, dir, TestAccountsFile,
		"account_id",
		"A3",
	)
	writeFile(t, dir, TransactionShardFile(0),
		"transaction_id,transaction_timestamp,account_id,counterparty_id,amount,txn_type,channel",
		"T1,2025-01-01 10:00:00,A1,CP1,1000,C,UPI",
		"T2,2025-01-01 12:00:00,A1,CP2,950,D,UPI",
	)
	writeFile(t, dir, TransactionShardFile(1),
		"transaction_id,transaction_timestamp,account_id,counterparty_id,amount,txn_type,channel",
		"T3,garbage,A2,CP3,20,d,NEFT",
	)
	return dir
}

func load(t *testing.T, dir string, opts Options) (*Dataset, error) {
	t.Helper()
	if opts.Shards == 0 {
		opts.Shards = 2
	}
	return NewLoader(DirSource(dir), opts, nil).Load(context.Background())
}

func TestLoader_LoadsAllTables(t *testing.T) {
	ctx := context.Background()
	ds, err := load(t, writeFixture(t), Options{Workers: 4})
	require.NoError(t, err)

	count, err := ds.Transactions.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, err := ds.Transactions.GetAll(ctx)
	require.NoError(t, err)
	ids := []string{all[0].ID, all[1].ID, all[2].ID}
	assert.Equal(t, []string{"T1", "T2", "T3"}, ids, "shards concatenate in shard order")
	assert.Equal(t, domain.TypeDebit, all[2].Type, "txn_type is upper-cased")
	assert.True(t, all[2].Timestamp.IsZero(), "bad timestamp coerces to null")

	a1, err := ds.Accounts.GetByID(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 1500.5, a1.AvgBalance)
	assert.Equal(t, "Y", a1.Flag("kyc_compliant"))

	a2, err := ds.Accounts.GetByID(ctx, "A2")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(a2.AvgBalance), "bad optional numeric becomes NaN")
	assert.True(t, a2.LastMobileUpdateDate.IsZero())
	assert.False(t, a2.EverFrozen())

	c2, err := ds.Customers.GetByID(ctx, "C2")
	require.NoError(t, err)
	assert.True(t, c2.DateOfBirth.IsZero())
	assert.Equal(t, "560001", c2.CustomerPin)

	mules, err := ds.Labels.GetMules(ctx)
	require.NoError(t, err)
	require.Len(t, mules, 1)
	assert.Equal(t, "A1", mules[0].AccountID)

	tests, err := ds.Labels.TestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A3"}, tests)
}

func TestLoader_TableStats(t *testing.T) {
	ds, err := load(t, writeFixture(t), Options{})
	require.NoError(t, err)

	require.Len(t, ds.Tables, 7)
	tx := ds.Table("transactions")
	require.NotNil(t, tx)
	assert.Equal(t, 3, tx.Rows)
	assert.Equal(t, 1, tx.Missing["transaction_timestamp"])

	cust := ds.Table("customers")
	assert.Equal(t, 2, cust.Rows)
	assert.Equal(t, 5, len(cust.Columns))
	assert.Equal(t, 1, cust.Missing["date_of_birth"], "unparseable date counts as missing")
	assert.Equal(t, 1, cust.Missing["relationship_start_date"])

	acc := ds.Table("accounts")
	assert.Equal(t, 1, acc.Missing["avg_balance"])
}

func TestLoader_ValidationSummary(t *testing.T) {
	ds, err := load(t, writeFixture(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, ds.Validation.Counts[validator.IssueMissingTimestamp])
	assert.Equal(t, 0, ds.Validation.Counts[validator.IssueDirectionMismatch])
}

func TestLoader_StrictDirection(t *testing.T) {
	dir := writeFixture(t)
	writeFile(t, dir, TransactionShardFile(1),
		"transaction_id,transaction_timestamp,account_id,counterparty_id,amount,txn_type,channel",
		"T3,2025-01-02,A2,CP3,-20,C,NEFT",
	)

	ds, err := load(t, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Validation.Counts[validator.IssueDirectionMismatch])

	_, err = load(t, dir, Options{StrictDirection: true})
	assert.True(t, errors.Is(err, validator.ErrDirectionMismatch), "got %v", err)
}

func TestLoader_StrictDuplicates(t *testing.T) {
	dir := writeFixture(t)
	writeFile(t, dir, TransactionShardFile(1),
		"transaction_id,transaction_timestamp,account_id,counterparty_id,amount,txn_type,channel",
		"T1,2025-01-02,A2,CP3,20,C,NEFT",
	)

	ds, err := load(t, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Validation.Counts[validator.IssueDuplicate])
	n, err := ds.Transactions.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n, "duplicates are kept")

	_, err = load(t, dir, Options{StrictDuplicates: true})
	assert.True(t, errors.Is(err, validator.ErrDuplicateTransaction), "got %v", err)
}

func TestLoader_MissingFile(t *testing.T) {
	dir := writeFixture(t)
	require.NoError(t, os.Remove(filepath.Join(dir, ProductsFile)))

	_, err := load(t, dir, Options{})

	assert.True(t, errors.Is(err, ErrMissingFile), "got %v", err)
}

func TestLoader_MissingShard(t *testing.T) {
	_, err := load(t, writeFixture(t), Options{Shards: 3})

	assert.True(t, errors.Is(err, ErrMissingFile), "got %v", err)
	assert.Contains(t, err.Error(), "transactions_part_2.csv")
}

func TestLoader_MissingColumn(t *testing.T) {
	dir := writeFixture(t)
	writeFile(t, dir, LabelsFile, "account_id,alert_reason", "A1,x")

	_, err := load(t, dir, Options{})

	assert.True(t, errors.Is(err, ErrMissingColumn), "got %v", err)
	assert.Contains(t, err.Error(), "is_mule")
}

func TestLoader_MalformedAmount(t *testing.T) {
	dir := writeFixture(t)
	writeFile(t, dir, TransactionShardFile(0),
		"transaction_id,transaction_timestamp,account_id,counterparty_id,amount,txn_type,channel",
		"T1,2025-01-01 10:00:00,A1,CP1,1000,C,UPI",
		"T2,2025-01-01 12:00:00,A1,CP2,12abc,D,UPI",
	)

	_, err := load(t, dir, Options{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedValue), "got %v", err)
	assert.Contains(t, err.Error(), "transactions_part_0.csv")
	assert.Contains(t, err.Error(), "line=3")
}

func TestLoader_InvalidLabel(t *testing.T) {
	dir := writeFixture(t)
	writeFile(t, dir, LabelsFile, "account_id,is_mule", "A1,1", "A2,2")

	_, err := load(t, dir, Options{})

	assert.True(t, errors.Is(err, validator.ErrInvalidLabel), "got %v", err)
}

func TestLoader_DuplicateLabel(t *testing.T) {
	dir := writeFixture(t)
	writeFile(t, dir, LabelsFile, "account_id,is_mule", "A1,1", "A1,0")

	_, err := load(t, dir, Options{})

	assert.Error(t, err)
}

func TestLoader_CompressedInputs(t *testing.T) {
	dir := writeFixture(t)
	header := "transaction_id,transaction_timestamp,account_id,counterparty_id,amount,txn_type,channel\n"

	compress := func(name, body string, wrap func(*bytes.Buffer) (io.WriteCloser, error)) {
		var buf bytes.Buffer
		w, err := wrap(&buf)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644))
	}

	require.NoError(t, os.Remove(filepath.Join(dir, TransactionShardFile(0))))
	require.NoError(t, os.Remove(filepath.Join(dir, TransactionShardFile(1))))

	compress(TransactionShardFile(0)+".gz", header+"G1,2025-01-01,A1,CP,10,C,UPI\n", func(b *bytes.Buffer) (io.WriteCloser, error) {
		return gzip.NewWriter(b), nil
	})
	compress(TransactionShardFile(1)+".zst", header+"Z1,2025-01-02,A1,CP,20,D,UPI\n", func(b *bytes.Buffer) (io.WriteCloser, error) {
		return zstd.NewWriter(b)
	})
	compress(TransactionShardFile(2)+".lz4", header+"L1,2025-01-03,A2,CP,30,C,UPI\n", func(b *bytes.Buffer) (io.WriteCloser, error) {
		return lz4.NewWriter(b), nil
	})

	ds, err := load(t, dir, Options{Shards: 3})
	require.NoError(t, err)

	all, err := ds.Transactions.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "G1", all[0].ID)
	assert.Equal(t, "Z1", all[1].ID)
	assert.Equal(t, "L1", all[2].ID)
}

func TestNewSource_Local(t *testing.T) {
	src, err := NewSource(context.Background(), "/tmp/data")
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "/tmp/data", src.String())
	_, isDir := src.(DirSource)
	assert.True(t, isDir)
}

func TestParseDate(t *testing.T) {
	for _, v := range []string{"2025-06-30", "2025-06-30 23:59:59", "2025-06-30T01:02:03Z", "2025/06/30"} {
		got, ok := parseDate(v)
		assert.True(t, ok, v)
		assert.Equal(t, 2025, got.Year(), v)
	}
	_, ok := parseDate("30-06-2025x")
	assert.False(t, ok)
}

package validator

import (
	"errors"
	"testing"
	"time"

	"mule_analyzer/internal/domain"
)

func TestDatasetValidator_ValidTransaction(t *testing.T) {
	v := NewDatasetValidator()
	tx := &domain.Transaction{
		ID:        "tx1",
		AccountID: "A1",
		Amount:    100,
		Type:      domain.TypeCredit,
		Timestamp: time.Now(),
	}

	err := v.ValidateTransaction(tx)

	if err != nil {
		t.Fatalf("expected valid transaction, got err=%v", err)
	}
}

func TestDatasetValidator_DirectionMismatch(t *testing.T) {
	v := NewDatasetValidator()
	tx := &domain.Transaction{
		ID:        "tx2",
		Amount:    -500,
		Type:      domain.TypeCredit,
		Timestamp: time.Now(),
	}

	err := v.ValidateTransaction(tx)

	if !errors.Is(err, ErrDirectionMismatch) {
		t.Fatalf("expected ErrDirectionMismatch, got %v", err)
	}
	if got := v.Summary().Counts[IssueDirectionMismatch]; got != 1 {
		t.Errorf("expected 1 direction mismatch, got %d", got)
	}
}

func TestDatasetValidator_DuplicateTransaction(t *testing.T) {
	v := NewDatasetValidator()
	tx := &domain.Transaction{
		ID:        "tx3",
		Amount:    10,
		Type:      domain.TypeDebit,
		Timestamp: time.Now(),
	}

	if err := v.ValidateTransaction(tx); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err := v.ValidateTransaction(tx)

	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestDatasetValidator_MultipleIssues(t *testing.T) {
	v := NewDatasetValidator()
	tx := &domain.Transaction{ID: "tx4", Amount: 10, Type: "X"}

	err := v.ValidateTransaction(tx)

	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
	if !errors.Is(err, ErrMissingTimestamp) {
		t.Errorf("expected ErrMissingTimestamp, got %v", err)
	}
	summary := v.Summary()
	kinds := summary.Kinds()
	if len(kinds) != 2 || kinds[0] != IssueMissingTimestamp || kinds[1] != IssueUnknownType {
		t.Errorf("unexpected kinds %v", kinds)
	}
	if summary.Checked != 1 {
		t.Errorf("expected 1 checked, got %d", summary.Checked)
	}
}

func TestDatasetValidator_CheckedCountsRows(t *testing.T) {
	v := NewDatasetValidator()
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"tx1", "tx2", "tx1", "tx1"} {
		_ = v.ValidateTransaction(&domain.Transaction{ID: id, Amount: 10, Type: domain.TypeCredit, Timestamp: at})
	}

	summary := v.Summary()
	if summary.Checked != 4 {
		t.Errorf("expected 4 checked, got %d", summary.Checked)
	}
	if summary.Counts[IssueDuplicate] != 2 {
		t.Errorf("expected 2 duplicates, got %d", summary.Counts[IssueDuplicate])
	}
}

func TestDatasetValidator_InvalidLabel(t *testing.T) {
	v := NewDatasetValidator()

	if err := v.ValidateLabel(&domain.Label{AccountID: "A1", IsMule: 1}); err != nil {
		t.Fatalf("expected valid label, got %v", err)
	}
	err := v.ValidateLabel(&domain.Label{AccountID: "A1", IsMule: 2})
	if !errors.Is(err, ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel, got %v", err)
	}
}

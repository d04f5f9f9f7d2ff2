package domain

import (
	"math"
	"time"
)

type TransactionType string

const (
	TypeCredit TransactionType = "C"
	TypeDebit  TransactionType = "D"
)

// Transaction is one row of a transactions_part_N.csv shard. Direction is
// taken from Type; Amount keeps the source sign.
type Transaction struct {
	ID             string          `json:"transaction_id"`
	AccountID      string          `json:"account_id"`
	CounterpartyID string          `json:"counterparty_id"`
	Amount         float64         `json:"amount"`
	Type           TransactionType `json:"txn_type"`
	Channel        string          `json:"channel"`
	Timestamp      time.Time       `json:"transaction_timestamp"`
}

func (tx *Transaction) AbsAmount() float64 {
	return math.Abs(tx.Amount)
}

func (tx *Transaction) HasTimestamp() bool {
	return !tx.Timestamp.IsZero()
}

// DirectionConsistent reports whether the amount sign agrees with the
// transaction type. Zero amounts are consistent with either type.
func (tx *Transaction) DirectionConsistent() bool {
	switch tx.Type {
	case TypeCredit, TypeDebit:
		return tx.Amount >= 0
	default:
		return true
	}
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is the local mirror of one upstream transaction.
// Transactions are unique by ID across the whole store, not per account.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"` // debit positive, credit negative
	CurrencyCode string          `json:"currency_code"`
	AccountID    string          `json:"account_id"`
}

package feed

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Classification is the upstream accounting class of an account.
type Classification string

const (
	ClassificationAsset     Classification = "asset"
	ClassificationLiability Classification = "liability"
)

// Indicator says whether an amount is money in or out.
type Indicator string

const (
	Debit  Indicator = "debit"
	Credit Indicator = "credit"
)

// Account is an upstream account record.
type Account struct {
	ID              uuid.UUID          `json:"id" validate:"required"`
	DisplayName     string             `json:"display_name"`
	InstitutionName string             `json:"institution_name"`
	Description     string             `json:"description,omitempty"`
	CurrencyCode    string             `json:"currency_code,omitempty" validate:"omitempty,len=3,uppercase"`
	Classification  Classification     `json:"classification" validate:"required"`
	OpeningDate     *time.Time         `json:"opening_date,omitempty"`
	Credit          *CreditInformation `json:"credit,omitempty"`
}

// CreditInformation is present on liability accounts.
type CreditInformation struct {
	CreditLimit              decimal.NullDecimal `json:"credit_limit"`
	NextPaymentDueDate       *time.Time          `json:"next_payment_due_date,omitempty"`
	MinimumNextPaymentAmount decimal.NullDecimal `json:"minimum_next_payment_amount"`
	OverduePaymentAmount     decimal.NullDecimal `json:"overdue_payment_amount"`
}

// Balance is an upstream balance record.
type Balance struct {
	ID        uuid.UUID      `json:"id" validate:"required"`
	AccountID uuid.UUID      `json:"account_id"`
	Available *BalanceAmount `json:"available,omitempty" validate:"required_without=Booked"`
	Booked    *BalanceAmount `json:"booked,omitempty"`
}

// BalanceAmount is an unsigned amount with its direction.
type BalanceAmount struct {
	Amount    decimal.Decimal `json:"amount"`
	Indicator Indicator       `json:"indicator" validate:"omitempty,oneof=debit credit"`
	AsOf      time.Time       `json:"as_of"`
}

// Transaction is an upstream transaction record.
type Transaction struct {
	ID                  uuid.UUID       `json:"id" validate:"required"`
	AccountID           uuid.UUID       `json:"account_id"`
	Date                time.Time       `json:"date"`
	OriginalDescription string          `json:"original_description"`
	Amount              decimal.Decimal `json:"amount"`
	CurrencyCode        string          `json:"currency_code" validate:"omitempty,len=3,uppercase"`
	Indicator           Indicator       `json:"indicator" validate:"omitempty,oneof=debit credit"`
}

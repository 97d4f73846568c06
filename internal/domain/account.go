package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind classifies a local account.
type AccountKind string

const (
	// AccountKindBank is a deposit account mapped from an upstream asset account.
	AccountKindBank AccountKind = "bank"
	// AccountKindCreditCard is a credit account mapped from an upstream liability account.
	AccountKindCreditCard AccountKind = "creditCard"
)

// Title returns the human readable name of the kind.
func (k AccountKind) Title() string {
	switch k {
	case AccountKindCreditCard:
		return "Credit Card"
	case AccountKindBank:
		return "Bank"
	default:
		return string(k)
	}
}

// DefaultCurrencyCode is used when upstream does not report a currency.
const DefaultCurrencyCode = "USD"

// Account is the local mirror of one upstream account.
// Balances and Dues are owned by the account; transactions reference it by ID.
type Account struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	InstitutionName string         `json:"institution_name,omitempty"`
	Description     string         `json:"description,omitempty"`
	Kind            AccountKind    `json:"kind"`
	CurrencyCode    string         `json:"currency_code"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       *time.Time     `json:"updated_at,omitempty"`
	Details         AccountDetails `json:"details"`
	Balances        []Balance      `json:"balances"`
	Dues            []Due          `json:"dues"`
}

// AccountDetails is a snapshot of credit specific fields.
// It is replaced wholesale on every account refresh.
type AccountDetails struct {
	OpeningDate              *time.Time          `json:"opening_date,omitempty"`
	CreditLimit              decimal.NullDecimal `json:"credit_limit"`
	NextPaymentDueDate       *time.Time          `json:"next_payment_due_date,omitempty"`
	MinimumNextPaymentAmount decimal.NullDecimal `json:"minimum_next_payment_amount"`
	OverduePaymentAmount     decimal.NullDecimal `json:"overdue_payment_amount"`
}

// Balance is one point-in-time balance of an account.
// Amount is signed: debit positive, credit negative.
type Balance struct {
	ID     uuid.UUID       `json:"id"`
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// Due is a payment obligation derived from account details.
type Due struct {
	ID         uuid.UUID       `json:"id"`
	DueAt      time.Time       `json:"due_at"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	TotalDue   decimal.Decimal `json:"total_due"`
	MinDue     decimal.Decimal `json:"min_due"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
}

// BalanceIndex returns the position of the balance with the given ID or -1.
func (a *Account) BalanceIndex(id uuid.UUID) int {
	for i := range a.Balances {
		if a.Balances[i].ID == id {
			return i
		}
	}
	return -1
}

// HasDueAt reports whether a due with exactly this due date is recorded.
func (a *Account) HasDueAt(dueAt time.Time) bool {
	for _, d := range a.Dues {
		if d.DueAt.Equal(dueAt) {
			return true
		}
	}
	return false
}

// LatestBalance returns the most recent balance by date.
func (a *Account) LatestBalance() (Balance, bool) {
	var (
		latest Balance
		found  bool
	)
	for _, b := range a.Balances {
		if !found || b.Date.After(latest.Date) {
			latest = b
			found = true
		}
	}
	return latest, found
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	c := a
	if a.UpdatedAt != nil {
		t := *a.UpdatedAt
		c.UpdatedAt = &t
	}
	c.Details = a.Details.clone()
	c.Balances = append([]Balance(nil), a.Balances...)
	c.Dues = make([]Due, len(a.Dues))
	for i, d := range a.Dues {
		c.Dues[i] = d
		if d.PaidAt != nil {
			t := *d.PaidAt
			c.Dues[i].PaidAt = &t
		}
	}
	if a.Dues == nil {
		c.Dues = nil
	}
	return c
}

func (d AccountDetails) clone() AccountDetails {
	c := d
	if d.OpeningDate != nil {
		t := *d.OpeningDate
		c.OpeningDate = &t
	}
	if d.NextPaymentDueDate != nil {
		t := *d.NextPaymentDueDate
		c.NextPaymentDueDate = &t
	}
	return c
}

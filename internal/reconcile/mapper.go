package reconcile

import (
	"time"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// accountKind maps an upstream classification to a local kind.
func accountKind(c feed.Classification) (domain.AccountKind, bool) {
	switch c {
	case feed.ClassificationAsset:
		return domain.AccountKindBank, true
	case feed.ClassificationLiability:
		return domain.AccountKindCreditCard, true
	default:
		return "", false
	}
}

// newAccount builds a local account from an upstream record.
func (r *Reconciler) newAccount(up feed.Account) (domain.Account, bool) {
	kind, ok := accountKind(up.Classification)
	if !ok {
		return domain.Account{}, false
	}

	a := domain.Account{
		ID:        up.ID.String(),
		Kind:      kind,
		CreatedAt: r.now(),
	}
	r.refreshAccount(&a, up)
	return a, true
}

// refreshAccount copies upstream fields onto a, replacing the details
// wholesale and deriving a due when the new details call for one.
// UpdatedAt moves only when something actually changed, so a replayed
// batch leaves the account untouched.
func (r *Reconciler) refreshAccount(a *domain.Account, up feed.Account) {
	before := *a
	if kind, ok := accountKind(up.Classification); ok {
		a.Kind = kind
	}
	a.Title = up.DisplayName
	a.InstitutionName = up.InstitutionName
	a.Description = up.Description
	a.CurrencyCode = up.CurrencyCode
	if a.CurrencyCode == "" {
		a.CurrencyCode = domain.DefaultCurrencyCode
	}

	a.Details = accountDetails(up)
	if due, ok := r.dueFor(a.Details); ok && !a.HasDueAt(due.DueAt) {
		a.Dues = append(a.Dues, due)
	}

	if accountChanged(before, *a) {
		now := r.now()
		a.UpdatedAt = &now
	}
}

// accountChanged compares the fields refreshAccount maps from upstream.
func accountChanged(before, after domain.Account) bool {
	return before.Kind != after.Kind ||
		before.Title != after.Title ||
		before.InstitutionName != after.InstitutionName ||
		before.Description != after.Description ||
		before.CurrencyCode != after.CurrencyCode ||
		len(before.Dues) != len(after.Dues) ||
		!detailsEqual(before.Details, after.Details)
}

func detailsEqual(a, b domain.AccountDetails) bool {
	return timeEqual(a.OpeningDate, b.OpeningDate) &&
		timeEqual(a.NextPaymentDueDate, b.NextPaymentDueDate) &&
		nullDecimalEqual(a.CreditLimit, b.CreditLimit) &&
		nullDecimalEqual(a.MinimumNextPaymentAmount, b.MinimumNextPaymentAmount) &&
		nullDecimalEqual(a.OverduePaymentAmount, b.OverduePaymentAmount)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func accountDetails(up feed.Account) domain.AccountDetails {
	var d domain.AccountDetails
	if up.Credit == nil {
		return d
	}
	d.OpeningDate = copyTime(up.OpeningDate)
	d.CreditLimit = up.Credit.CreditLimit
	d.NextPaymentDueDate = copyTime(up.Credit.NextPaymentDueDate)
	d.MinimumNextPaymentAmount = up.Credit.MinimumNextPaymentAmount
	d.OverduePaymentAmount = up.Credit.OverduePaymentAmount
	return d
}

// dueFor derives a due from details carrying both a next due date and an
// overdue amount.
func (r *Reconciler) dueFor(d domain.AccountDetails) (domain.Due, bool) {
	if d.NextPaymentDueDate == nil || !d.OverduePaymentAmount.Valid {
		return domain.Due{}, false
	}

	minDue := decimal.Zero
	if d.MinimumNextPaymentAmount.Valid {
		minDue = d.MinimumNextPaymentAmount.Decimal
	}
	return domain.Due{
		ID:         r.newID(),
		DueAt:      *d.NextPaymentDueDate,
		TotalDue:   d.OverduePaymentAmount.Decimal,
		MinDue:     minDue,
		AmountPaid: decimal.Zero,
	}, true
}

// signed applies the direction to the magnitude: debit positive, credit negative.
// Unknown indicators keep the amount as delivered.
func signed(amount decimal.Decimal, ind feed.Indicator) decimal.Decimal {
	switch ind {
	case feed.Debit:
		return amount.Abs()
	case feed.Credit:
		return amount.Abs().Neg()
	default:
		return amount
	}
}

// balance maps an upstream balance, preferring the available amount over the
// booked one. Records with neither are dropped.
func balance(up feed.Balance) (domain.Balance, bool) {
	amt := up.Available
	if amt == nil {
		amt = up.Booked
	}
	if amt == nil {
		return domain.Balance{}, false
	}
	return domain.Balance{
		ID:     up.ID,
		Date:   amt.AsOf,
		Amount: signed(amt.Amount, amt.Indicator),
	}, true
}

func transaction(up feed.Transaction, accountID string) domain.Transaction {
	currency := up.CurrencyCode
	if currency == "" {
		currency = domain.DefaultCurrencyCode
	}
	return domain.Transaction{
		ID:           up.ID,
		Date:         up.Date,
		Description:  up.OriginalDescription,
		Amount:       signed(up.Amount, up.Indicator),
		CurrencyCode: currency,
		AccountID:    accountID,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

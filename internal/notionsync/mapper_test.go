package notionsync

import (
	"testing"
	"time"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/google/uuid"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

func TestAccountToNotionProperties(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	acc := domain.Account{
		ID:              "acc-1",
		Title:           "Rewards Card",
		InstitutionName: "Example Bank",
		Kind:            domain.AccountKindCreditCard,
		CurrencyCode:    "USD",
		Details: domain.AccountDetails{
			CreditLimit:        decimal.NewNullDecimal(decimal.NewFromInt(5000)),
			NextPaymentDueDate: &due,
		},
		Balances: []domain.Balance{
			{ID: uuid.New(), Date: due.Add(-48 * time.Hour), Amount: decimal.NewFromInt(-10)},
			{ID: uuid.New(), Date: due.Add(-24 * time.Hour), Amount: decimal.NewFromInt(-250)},
		},
	}

	props := AccountToNotionProperties(acc)

	if got := pageKey(notionapi.Page{Properties: props}, PropAccountID); got != "acc-1" {
		t.Errorf("Account ID = %q, want %q", got, "acc-1")
	}
	if kind := props[PropKind].(notionapi.SelectProperty).Select.Name; kind != "Credit Card" {
		t.Errorf("Kind = %q, want %q", kind, "Credit Card")
	}
	if bal := props[PropBalance].(notionapi.NumberProperty).Number; bal != -250 {
		t.Errorf("Balance = %v, want -250", bal)
	}
	if limit := props[PropCreditLimit].(notionapi.NumberProperty).Number; limit != 5000 {
		t.Errorf("Credit Limit = %v, want 5000", limit)
	}
	if _, ok := props[PropMinimumDue]; ok {
		t.Error("Minimum Due should be absent when unknown")
	}
	if _, ok := props[PropNextDue]; !ok {
		t.Error("Next Due should be set")
	}
}

func TestAccountToNotionPropertiesWithoutBalances(t *testing.T) {
	props := AccountToNotionProperties(domain.Account{ID: "a", Kind: domain.AccountKindBank})

	for _, name := range []string{PropBalance, PropBalanceDate, PropInstitution, PropCreditLimit} {
		if _, ok := props[name]; ok {
			t.Errorf("%s should be absent", name)
		}
	}
}

func TestTransactionToNotionProperties(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name        string
		tx          domain.Transaction
		titles      map[string]string
		wantTitle   string
		wantAccount string
	}{
		{
			name:        "resolved account",
			tx:          domain.Transaction{ID: id, AccountID: "a", Description: "Coffee"},
			titles:      map[string]string{"a": "Checking"},
			wantTitle:   "Coffee",
			wantAccount: "Checking",
		},
		{
			name:        "unknown account falls back to id",
			tx:          domain.Transaction{ID: id, AccountID: "b", Description: "Coffee"},
			wantTitle:   "Coffee",
			wantAccount: "b",
		},
		{
			name:        "empty description uses transaction id",
			tx:          domain.Transaction{ID: id, AccountID: "a"},
			titles:      map[string]string{"a": "Checking"},
			wantTitle:   id.String(),
			wantAccount: "Checking",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := TransactionToNotionProperties(tt.tx, tt.titles)
			page := notionapi.Page{Properties: props}

			if got := pageKey(page, PropDescription); got != tt.wantTitle {
				t.Errorf("title = %q, want %q", got, tt.wantTitle)
			}
			if got := pageKey(page, PropTransactionID); got != id.String() {
				t.Errorf("Transaction ID = %q, want %q", got, id.String())
			}
			if got := props[PropAccount].(notionapi.SelectProperty).Select.Name; got != tt.wantAccount {
				t.Errorf("Account = %q, want %q", got, tt.wantAccount)
			}
		})
	}
}

func TestPageKeyReadsDecodedPages(t *testing.T) {
	page := notionapi.Page{Properties: notionapi.Properties{
		PropAccountID: &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: "acc-9"}}},
	}}
	if got := pageKey(page, PropAccountID); got != "acc-9" {
		t.Errorf("pageKey = %q, want %q", got, "acc-9")
	}
	if got := pageKey(page, PropTransactionID); got != "" {
		t.Errorf("missing property = %q, want empty", got)
	}
}

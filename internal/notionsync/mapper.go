package notionsync

import (
	"time"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

// Property names shared with the Notion database schemas.
const (
	PropAccountID     = "Account ID"
	PropTitle         = "Title"
	PropInstitution   = "Institution"
	PropKind          = "Kind"
	PropCurrency      = "Currency"
	PropBalance       = "Balance"
	PropBalanceDate   = "Balance Date"
	PropCreditLimit   = "Credit Limit"
	PropNextDue       = "Next Due"
	PropMinimumDue    = "Minimum Due"
	PropTransactionID = "Transaction ID"
	PropDescription   = "Description"
	PropDate          = "Date"
	PropAmount        = "Amount"
	PropAccount       = "Account"
)

// AccountToNotionProperties converts an account to Accounts database properties.
// The latest balance and the credit details are flattened onto the page.
func AccountToNotionProperties(acc domain.Account) notionapi.Properties {
	props := notionapi.Properties{
		PropAccountID: titleProperty(acc.ID),
		PropTitle:     richTextProperty(acc.Title),
		PropKind:      notionapi.SelectProperty{Select: notionapi.Option{Name: acc.Kind.Title()}},
		PropCurrency:  notionapi.SelectProperty{Select: notionapi.Option{Name: acc.CurrencyCode}},
	}

	if acc.InstitutionName != "" {
		props[PropInstitution] = notionapi.SelectProperty{Select: notionapi.Option{Name: acc.InstitutionName}}
	}
	if acc.Description != "" {
		props[PropDescription] = richTextProperty(acc.Description)
	}

	if latest, ok := acc.LatestBalance(); ok {
		props[PropBalance] = numberProperty(latest.Amount)
		props[PropBalanceDate] = dateProperty(latest.Date)
	}

	if acc.Details.CreditLimit.Valid {
		props[PropCreditLimit] = numberProperty(acc.Details.CreditLimit.Decimal)
	}
	if acc.Details.NextPaymentDueDate != nil {
		props[PropNextDue] = dateProperty(*acc.Details.NextPaymentDueDate)
	}
	if acc.Details.MinimumNextPaymentAmount.Valid {
		props[PropMinimumDue] = numberProperty(acc.Details.MinimumNextPaymentAmount.Decimal)
	}

	return props
}

// TransactionToNotionProperties converts a transaction to Transactions database properties.
// accountTitles resolves the owning account to a readable name when known.
func TransactionToNotionProperties(tx domain.Transaction, accountTitles map[string]string) notionapi.Properties {
	description := tx.Description
	if description == "" {
		description = tx.ID.String()
	}

	props := notionapi.Properties{
		PropDescription:   titleProperty(description),
		PropTransactionID: richTextProperty(tx.ID.String()),
		PropDate:          dateProperty(tx.Date),
		PropAmount:        numberProperty(tx.Amount),
		PropCurrency:      notionapi.SelectProperty{Select: notionapi.Option{Name: tx.CurrencyCode}},
	}

	account := tx.AccountID
	if title, ok := accountTitles[tx.AccountID]; ok && title != "" {
		account = title
	}
	if account != "" {
		props[PropAccount] = notionapi.SelectProperty{Select: notionapi.Option{Name: account}}
	}

	return props
}

func titleProperty(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{Title: richText(s)}
}

func richTextProperty(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{RichText: richText(s)}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

func numberProperty(d decimal.Decimal) notionapi.NumberProperty {
	return notionapi.NumberProperty{Number: d.InexactFloat64()}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t.UTC())
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

// pageKey reads the identifying property of an existing page.
// Pages decoded from the API hold pointer properties; locally built ones hold values.
func pageKey(page notionapi.Page, name string) string {
	switch prop := page.Properties[name].(type) {
	case *notionapi.TitleProperty:
		return plainText(prop.Title)
	case notionapi.TitleProperty:
		return plainText(prop.Title)
	case *notionapi.RichTextProperty:
		return plainText(prop.RichText)
	case notionapi.RichTextProperty:
		return plainText(prop.RichText)
	}
	return ""
}

func plainText(rt []notionapi.RichText) string {
	if len(rt) == 0 {
		return ""
	}
	if rt[0].PlainText != "" {
		return rt[0].PlainText
	}
	if rt[0].Text != nil {
		return rt[0].Text.Content
	}
	return ""
}

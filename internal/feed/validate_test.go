package feed

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBatchAccepts(t *testing.T) {
	accounts := Batch[Account]{
		Inserted: []Account{{ID: uuid.New(), Classification: ClassificationAsset, CurrencyCode: "USD"}},
		Updated:  []Account{{ID: uuid.New(), Classification: "mortgage"}},
		Deleted:  []uuid.UUID{uuid.New()},
	}
	assert.NoError(t, ValidateBatch(accounts))

	balances := Batch[Balance]{
		Inserted: []Balance{
			{ID: uuid.New(), Booked: &BalanceAmount{Amount: decimal.NewFromInt(5), Indicator: Credit}},
			{ID: uuid.New(), Available: &BalanceAmount{Amount: decimal.NewFromInt(5)}},
		},
	}
	assert.NoError(t, ValidateBatch(balances))

	assert.NoError(t, ValidateBatch(Batch[Transaction]{}))
}

func TestValidateBatchRejects(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "account without id or classification",
			err:  ValidateBatch(Batch[Account]{Inserted: []Account{{CurrencyCode: "usd"}}}),
			want: []string{
				"inserted[0].id: is required",
				"inserted[0].classification: is required",
				"inserted[0].currency_code: must be upper case",
			},
		},
		{
			name: "balance without amounts",
			err:  ValidateBatch(Batch[Balance]{Updated: []Balance{{ID: uuid.New()}}}),
			want: []string{"updated[0].available: is required when booked is missing"},
		},
		{
			name: "nested indicator",
			err: ValidateBatch(Batch[Balance]{Inserted: []Balance{
				{ID: uuid.New(), Available: &BalanceAmount{Indicator: "sideways"}},
			}}),
			want: []string{"inserted[0].available.indicator: must be one of: debit credit"},
		},
		{
			name: "transaction currency and nil delete",
			err: ValidateBatch(Batch[Transaction]{
				Inserted: []Transaction{{ID: uuid.New(), CurrencyCode: "EURO"}},
				Deleted:  []uuid.UUID{uuid.Nil},
			}),
			want: []string{
				"inserted[0].currency_code: must be 3 characters long",
				"deleted[0]: nil id",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			for _, msg := range tt.want {
				assert.Contains(t, tt.err.Error(), msg)
			}
		})
	}
}

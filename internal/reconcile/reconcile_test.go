package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/kv"
	"github.com/dvloznov/walletsync/internal/persist"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

// fakeLifecycle records the calls made by the reconciler.
type fakeLifecycle struct {
	mu        sync.Mutex
	stopped   []string
	scheduled int
	// existsOnStop records whether the account was still stored when its
	// observer was stopped.
	existsOnStop []bool
	store        *store.Store
}

func (f *fakeLifecycle) RetireAccount(accountID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, accountID)
	_, ok := f.store.Account(accountID)
	f.existsOnStop = append(f.existsOnStop, ok)
	return f.store.RemoveAccount(accountID)
}

func (f *fakeLifecycle) ScheduleEnsureObserving() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled++
}

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *fakeLifecycle) {
	t.Helper()
	backing := kv.NewMemory()
	w := persist.NewWriter(backing, 16, zerolog.Nop())
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	st, err := store.Open(context.Background(), backing, w, zerolog.Nop())
	require.NoError(t, err)

	lc := &fakeLifecycle{store: st}
	var seq uint32
	r := New(st, lc, zerolog.Nop(),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() uuid.UUID {
			seq++
			var id uuid.UUID
			id[15] = byte(seq)
			return id
		}),
	)
	return r, st, lc
}

func assetAccount(id uuid.UUID, name string) feed.Account {
	return feed.Account{
		ID:              id,
		DisplayName:     name,
		InstitutionName: "First Bank",
		CurrencyCode:    "EUR",
		Classification:  feed.ClassificationAsset,
	}
}

func creditAccount(id uuid.UUID, due time.Time, overdue string) feed.Account {
	return feed.Account{
		ID:             id,
		DisplayName:    "Card",
		Classification: feed.ClassificationLiability,
		Credit: &feed.CreditInformation{
			CreditLimit:          decimal.NewNullDecimal(decimal.NewFromInt(1000)),
			NextPaymentDueDate:   &due,
			OverduePaymentAmount: decimal.NewNullDecimal(decimal.RequireFromString(overdue)),
		},
	}
}

func TestAccountLifecycleScenario(t *testing.T) {
	r, st, lc := newTestReconciler(t)
	id := uuid.New()

	res := r.ApplyAccountChanges(feed.Batch[feed.Account]{Inserted: []feed.Account{assetAccount(id, "Checking")}})
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, st.Accounts(), 1)
	assert.Equal(t, 1, lc.scheduled)

	a, ok := st.Account(id.String())
	require.True(t, ok)
	assert.Equal(t, domain.AccountKindBank, a.Kind)
	assert.Equal(t, "EUR", a.CurrencyCode)
	assert.Equal(t, fixedNow, a.CreatedAt)

	updated := assetAccount(id, "Everyday Checking")
	updated.Description = "Joint"
	res = r.ApplyAccountChanges(feed.Batch[feed.Account]{Updated: []feed.Account{updated}})
	assert.Equal(t, 1, res.Updated)
	require.Len(t, st.Accounts(), 1)
	a, _ = st.Account(id.String())
	assert.Equal(t, "Everyday Checking", a.Title)
	assert.Equal(t, "Joint", a.Description)

	res = r.ApplyAccountChanges(feed.Batch[feed.Account]{Deleted: []uuid.UUID{id}})
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, st.Accounts())
	assert.Equal(t, []string{id.String()}, lc.stopped)
	assert.Equal(t, []bool{true}, lc.existsOnStop, "observer must be stopped before removal")
}

func TestUpdateUnknownAccountIsNoop(t *testing.T) {
	r, st, lc := newTestReconciler(t)
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Inserted: []feed.Account{assetAccount(uuid.New(), "A")}})
	before := st.Accounts()

	res := r.ApplyAccountChanges(feed.Batch[feed.Account]{
		Updated: []feed.Account{assetAccount(uuid.New(), "Ghost")},
		Deleted: []uuid.UUID{uuid.New()},
	})
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, st.Accounts(), 1)
	assert.Empty(t, cmp.Diff(before, st.Accounts()))
	assert.Empty(t, lc.stopped)
}

func TestUnmappedClassificationIsDropped(t *testing.T) {
	r, st, lc := newTestReconciler(t)

	odd := assetAccount(uuid.New(), "Brokerage")
	odd.Classification = "investment"
	res := r.ApplyAccountChanges(feed.Batch[feed.Account]{
		Inserted: []feed.Account{odd, assetAccount(uuid.New(), "Checking")},
	})
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, st.Accounts(), 1)
	assert.Equal(t, 1, lc.scheduled)
}

func TestAccountBatchReplayIsIdempotent(t *testing.T) {
	r, st, lc := newTestReconciler(t)
	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	batch := feed.Batch[feed.Account]{
		Inserted: []feed.Account{assetAccount(uuid.New(), "A"), creditAccount(uuid.New(), due, "120")},
	}

	r.ApplyAccountChanges(batch)
	once := st.Accounts()
	r.ApplyAccountChanges(batch)

	assert.Empty(t, cmp.Diff(once, st.Accounts(), cmp.Comparer(func(x, y decimal.Decimal) bool { return x.Equal(y) })))
	assert.Equal(t, 1, lc.scheduled, "a replayed insert adds no new accounts")
}

func TestDueDedupByDueDate(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	id := uuid.New()
	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	r.ApplyAccountChanges(feed.Batch[feed.Account]{Inserted: []feed.Account{creditAccount(id, due, "120")}})
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Updated: []feed.Account{creditAccount(id, due, "95.50")}})

	a, _ := st.Account(id.String())
	require.Len(t, a.Dues, 1)
	assert.True(t, a.Dues[0].TotalDue.Equal(decimal.NewFromInt(120)))
	assert.True(t, a.Dues[0].MinDue.IsZero())
	assert.True(t, a.Details.OverduePaymentAmount.Decimal.Equal(decimal.RequireFromString("95.50")))

	next := due.AddDate(0, 1, 0)
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Updated: []feed.Account{creditAccount(id, next, "30")}})
	a, _ = st.Account(id.String())
	assert.Len(t, a.Dues, 2)
}

func TestDetailsReplacedWholesale(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	id := uuid.New()
	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	r.ApplyAccountChanges(feed.Batch[feed.Account]{Inserted: []feed.Account{creditAccount(id, due, "10")}})

	plain := creditAccount(id, due, "10")
	plain.Credit = nil
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Updated: []feed.Account{plain}})

	a, _ := st.Account(id.String())
	assert.False(t, a.Details.CreditLimit.Valid)
	assert.Nil(t, a.Details.NextPaymentDueDate)
	assert.Len(t, a.Dues, 1, "dues are never removed automatically")
}

func TestApplyBalanceChanges(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	id := uuid.New()
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Inserted: []feed.Account{assetAccount(id, "A")}})

	b1, b2, b3 := uuid.New(), uuid.New(), uuid.New()
	asOf := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	res, err := r.ApplyBalanceChanges(id.String(), feed.Batch[feed.Balance]{
		Inserted: []feed.Balance{
			{ID: b1, Available: &feed.BalanceAmount{Amount: decimal.NewFromInt(100), Indicator: feed.Debit, AsOf: asOf}},
			{ID: b2, Booked: &feed.BalanceAmount{Amount: decimal.NewFromInt(40), Indicator: feed.Credit, AsOf: asOf}},
			{ID: b3},
		},
		Updated: []feed.Balance{{ID: uuid.New(), Available: &feed.BalanceAmount{Amount: decimal.NewFromInt(1)}}},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2, Skipped: 2}, res)

	a, _ := st.Account(id.String())
	require.Len(t, a.Balances, 2)
	assert.True(t, a.Balances[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, a.Balances[1].Amount.Equal(decimal.NewFromInt(-40)))
	assert.Equal(t, asOf, a.Balances[0].Date)

	res, err = r.ApplyBalanceChanges(id.String(), feed.Batch[feed.Balance]{
		Updated: []feed.Balance{{ID: b1, Available: &feed.BalanceAmount{Amount: decimal.NewFromInt(80), Indicator: feed.Debit, AsOf: asOf}}},
		Deleted: []uuid.UUID{b2, uuid.New()},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1, Deleted: 1, Skipped: 1}, res)

	a, _ = st.Account(id.String())
	require.Len(t, a.Balances, 1)
	assert.True(t, a.Balances[0].Amount.Equal(decimal.NewFromInt(80)))
}

func TestApplyBalanceChangesReplay(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	id := uuid.New()
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Inserted: []feed.Account{assetAccount(id, "A")}})

	batch := feed.Batch[feed.Balance]{Inserted: []feed.Balance{
		{ID: uuid.New(), Available: &feed.BalanceAmount{Amount: decimal.NewFromInt(5), Indicator: feed.Debit}},
	}}
	_, err := r.ApplyBalanceChanges(id.String(), batch)
	require.NoError(t, err)
	_, err = r.ApplyBalanceChanges(id.String(), batch)
	require.NoError(t, err)

	a, _ := st.Account(id.String())
	assert.Len(t, a.Balances, 1)
}

func TestApplyBalanceChangesUnknownAccount(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	_, err := r.ApplyBalanceChanges("missing", feed.Batch[feed.Balance]{
		Inserted: []feed.Balance{{ID: uuid.New(), Available: &feed.BalanceAmount{Amount: decimal.NewFromInt(1)}}},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.ApplyBalanceChanges("missing", feed.Batch[feed.Balance]{})
	assert.NoError(t, err)
}

func TestTransactionScenario(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	accountID := uuid.New()
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Inserted: []feed.Account{assetAccount(accountID, "A")}})

	t1 := feed.Transaction{ID: uuid.New(), AccountID: accountID, Amount: decimal.NewFromInt(50), Indicator: feed.Debit, CurrencyCode: "EUR", OriginalDescription: "Salary"}
	t2 := feed.Transaction{ID: uuid.New(), AccountID: accountID, Amount: decimal.NewFromInt(-20), Indicator: feed.Credit, CurrencyCode: "EUR", OriginalDescription: "Coffee"}

	res := r.ApplyTransactionChanges(accountID.String(), feed.Batch[feed.Transaction]{Inserted: []feed.Transaction{t1, t2}})
	assert.Equal(t, 2, res.Inserted)

	txns := st.TransactionsForAccount(accountID.String())
	require.Len(t, txns, 2)

	got1, _ := st.Transaction(t1.ID)
	got2, _ := st.Transaction(t2.ID)
	assert.True(t, got1.Amount.Equal(decimal.NewFromInt(50)))
	assert.True(t, got2.Amount.Equal(decimal.NewFromInt(-20)))
	assert.Equal(t, "Coffee", got2.Description)
	assert.Equal(t, accountID.String(), got2.AccountID)
}

func TestTransactionSignRules(t *testing.T) {
	assert.True(t, signed(decimal.NewFromInt(20), feed.Credit).Equal(decimal.NewFromInt(-20)))
	assert.True(t, signed(decimal.NewFromInt(-20), feed.Debit).Equal(decimal.NewFromInt(20)))
	assert.True(t, signed(decimal.NewFromInt(-7), "pending").Equal(decimal.NewFromInt(-7)))
}

func TestTransactionUpdatesUseGlobalLookup(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	a, b := uuid.New(), uuid.New()
	txID := uuid.New()

	r.ApplyTransactionChanges(a.String(), feed.Batch[feed.Transaction]{
		Inserted: []feed.Transaction{{ID: txID, Amount: decimal.NewFromInt(10), Indicator: feed.Debit}},
	})

	// the update arrives on another account's feed and is still applied
	res := r.ApplyTransactionChanges(b.String(), feed.Batch[feed.Transaction]{
		Updated: []feed.Transaction{{ID: txID, Amount: decimal.NewFromInt(12), Indicator: feed.Debit}},
	})
	assert.Equal(t, 1, res.Updated)
	got, _ := st.Transaction(txID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, b.String(), got.AccountID)
	assert.Len(t, st.Transactions(), 1)

	res = r.ApplyTransactionChanges(a.String(), feed.Batch[feed.Transaction]{
		Updated: []feed.Transaction{{ID: uuid.New()}},
		Deleted: []uuid.UUID{txID, uuid.New()},
	})
	assert.Equal(t, Result{Deleted: 1, Skipped: 2}, res)
	assert.Empty(t, st.Transactions())
}

func TestTransactionReplayIsIdempotent(t *testing.T) {
	r, st, _ := newTestReconciler(t)
	accountID := uuid.New().String()
	batch := feed.Batch[feed.Transaction]{
		Inserted: []feed.Transaction{
			{ID: uuid.New(), Amount: decimal.NewFromInt(1), Indicator: feed.Debit},
			{ID: uuid.New(), Amount: decimal.NewFromInt(2), Indicator: feed.Credit},
		},
	}

	r.ApplyTransactionChanges(accountID, batch)
	once := st.Transactions()
	r.ApplyTransactionChanges(accountID, batch)

	assert.Len(t, st.Transactions(), 2)
	assert.Empty(t, cmp.Diff(once, st.Transactions(), cmp.Comparer(func(x, y decimal.Decimal) bool { return x.Equal(y) })))
}

func TestReplayKeepsUpdatedAt(t *testing.T) {
	backing := kv.NewMemory()
	w := persist.NewWriter(backing, 16, zerolog.Nop())
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	st, err := store.Open(context.Background(), backing, w, zerolog.Nop())
	require.NoError(t, err)

	clock := fixedNow
	r := New(st, &fakeLifecycle{store: st}, zerolog.Nop(), WithClock(func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}))

	id := uuid.New()
	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	insert := feed.Batch[feed.Account]{Inserted: []feed.Account{creditAccount(id, due, "40.00")}}

	r.ApplyAccountChanges(insert)
	first, _ := st.Account(id.String())
	require.NotNil(t, first.UpdatedAt)

	// replays of the insert and of an identical update change nothing
	r.ApplyAccountChanges(insert)
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Updated: []feed.Account{creditAccount(id, due, "40.00")}})
	replayed, _ := st.Account(id.String())
	assert.Equal(t, first, replayed)

	renamed := creditAccount(id, due, "40.00")
	renamed.DisplayName = "Travel card"
	r.ApplyAccountChanges(feed.Batch[feed.Account]{Updated: []feed.Account{renamed}})
	got, _ := st.Account(id.String())
	require.NotNil(t, got.UpdatedAt)
	assert.True(t, got.UpdatedAt.After(*first.UpdatedAt))
	assert.Len(t, got.Dues, 1)
}

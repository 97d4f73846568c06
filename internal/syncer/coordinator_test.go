package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/walletsync/internal/cursor"
	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/feed/memfeed"
	"github.com/dvloznov/walletsync/internal/kv"
	"github.com/dvloznov/walletsync/internal/persist"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fixture struct {
	provider *memfeed.Provider
	backing  *kv.Memory
	store    *store.Store
	cursors  *cursor.Store
	coord    *Coordinator
}

func newFixture(t *testing.T, state feed.AuthorizationState) *fixture {
	t.Helper()
	return newFixtureWithBacking(t, state, kv.NewMemory(), memfeed.New(state))
}

func newFixtureWithBacking(t *testing.T, state feed.AuthorizationState, backing *kv.Memory, provider *memfeed.Provider) *fixture {
	t.Helper()
	ctx := context.Background()

	w := persist.NewWriter(backing, 16, zerolog.Nop())
	st, err := store.Open(ctx, backing, w, zerolog.Nop())
	require.NoError(t, err)

	cursors := cursor.NewStore(backing)
	coord := New(provider, st, cursors, zerolog.Nop(), Options{SettleDelay: 10 * time.Millisecond})
	t.Cleanup(func() {
		_ = coord.Shutdown(ctx)
		_ = w.Stop(ctx)
	})

	return &fixture{provider: provider, backing: backing, store: st, cursors: cursors, coord: coord}
}

func account(id uuid.UUID, name string) feed.Account {
	return feed.Account{ID: id, DisplayName: name, Classification: feed.ClassificationAsset}
}

func TestEndToEndAccountScenario(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()
	require.NoError(t, f.coord.Start(ctx))

	a := uuid.New()
	f.provider.PublishAccounts(feed.Batch[feed.Account]{Inserted: []feed.Account{account(a, "A")}})

	// the new account is observed once upstream has settled
	require.Eventually(t, func() bool {
		return len(f.coord.ObservedAccounts()) == 1
	}, waitFor, tick)
	assert.Len(t, f.store.Accounts(), 1)

	f.provider.PublishAccounts(feed.Batch[feed.Account]{Updated: []feed.Account{account(a, "A prime")}})
	require.Eventually(t, func() bool {
		got, ok := f.store.Account(a.String())
		return ok && got.Title == "A prime"
	}, waitFor, tick)
	assert.Len(t, f.store.Accounts(), 1)

	f.provider.PublishAccounts(feed.Batch[feed.Account]{Deleted: []uuid.UUID{a}})
	require.Eventually(t, func() bool {
		return len(f.store.Accounts()) == 0
	}, waitFor, tick)
	assert.Empty(t, f.coord.ObservedAccounts())

	require.Eventually(t, func() bool {
		c, err := f.cursors.Get(ctx, domain.ResourceAccounts, "")
		return err == nil && string(c) == string(memfeed.EncodeCursor(3))
	}, waitFor, tick)
}

func TestEndToEndTransactionScenario(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()
	require.NoError(t, f.coord.Start(ctx))

	a := uuid.New()
	f.provider.PublishAccounts(feed.Batch[feed.Account]{Inserted: []feed.Account{account(a, "A")}})
	require.Eventually(t, func() bool {
		return len(f.coord.ObservedAccounts()) == 1
	}, waitFor, tick)

	t1, t2 := uuid.New(), uuid.New()
	f.provider.PublishTransactions(a, feed.Batch[feed.Transaction]{Inserted: []feed.Transaction{
		{ID: t1, AccountID: a, Amount: decimal.NewFromInt(50), Indicator: feed.Debit},
		{ID: t2, AccountID: a, Amount: decimal.NewFromInt(-20), Indicator: feed.Credit},
	}})

	require.Eventually(t, func() bool {
		return len(f.store.TransactionsForAccount(a.String())) == 2
	}, waitFor, tick)

	got1, _ := f.store.Transaction(t1)
	got2, _ := f.store.Transaction(t2)
	assert.True(t, got1.Amount.Equal(decimal.NewFromInt(50)))
	assert.True(t, got2.Amount.Equal(decimal.NewFromInt(-20)))
	assert.Equal(t, a.String(), got1.AccountID)
	assert.Equal(t, a.String(), got2.AccountID)
}

func TestStartUnauthorized(t *testing.T) {
	f := newFixture(t, feed.NotDetermined)
	ctx := context.Background()

	err := f.coord.Start(ctx)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, feed.NotDetermined, f.coord.Authorization())
	assert.False(t, f.coord.Status().AccountFeedRunning)

	err = f.coord.EnsureObserving(ctx, []domain.Account{{ID: uuid.New().String()}})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, f.coord.ObservedAccounts())
}

func TestRequestAuthorizationStartsSyncing(t *testing.T) {
	f := newFixture(t, feed.NotDetermined)
	ctx := context.Background()
	require.ErrorIs(t, f.coord.Start(ctx), domain.ErrUnauthorized)

	a := uuid.New()
	f.provider.PublishAccounts(feed.Batch[feed.Account]{Inserted: []feed.Account{account(a, "A")}})

	state, err := f.coord.RequestAuthorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, feed.Authorized, state)

	require.Eventually(t, func() bool {
		return len(f.coord.ObservedAccounts()) == 1
	}, waitFor, tick)
	assert.True(t, f.coord.Status().AccountFeedRunning)
}

func TestRequestAuthorizationDeniedStopsObservers(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()

	a := uuid.New()
	f.store.AddAccounts([]domain.Account{{ID: a.String(), Title: "A"}})
	require.NoError(t, f.coord.Start(ctx))
	assert.Equal(t, []string{a.String()}, f.coord.ObservedAccounts())

	f.provider.SetRequestOutcome(feed.Denied)
	state, err := f.coord.RequestAuthorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, feed.Denied, state)
	assert.Empty(t, f.coord.ObservedAccounts())
	assert.False(t, f.coord.Status().AccountFeedRunning)
}

func TestEnsureObservingIsIdempotent(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()
	require.NoError(t, f.coord.Start(ctx))

	a, b := uuid.New().String(), uuid.New().String()
	accounts := []domain.Account{{ID: a}, {ID: b}}
	f.store.AddAccounts(accounts)

	require.NoError(t, f.coord.EnsureObserving(ctx, accounts))
	require.NoError(t, f.coord.EnsureObserving(ctx, accounts))
	require.NoError(t, f.coord.EnsureObserving(ctx, f.store.Accounts()))
	assert.ElementsMatch(t, []string{a, b}, f.coord.ObservedAccounts())

	f.coord.StopObserving(a)
	assert.Equal(t, []string{b}, f.coord.ObservedAccounts())
	f.coord.StopObserving(a)

	f.coord.StopAll()
	assert.Empty(t, f.coord.ObservedAccounts())

	require.NoError(t, f.coord.EnsureObserving(ctx, accounts))
	assert.Len(t, f.coord.ObservedAccounts(), 2)
}

func TestRetireAccountLeavesNoObserverBehind(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()
	require.NoError(t, f.coord.Start(ctx))

	for i := 0; i < 20; i++ {
		a := uuid.New().String()
		f.store.AddAccounts([]domain.Account{{ID: a}})
		require.NoError(t, f.coord.EnsureObserving(ctx, f.store.Accounts()))

		// a settle timer racing the delete
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = f.coord.EnsureObserving(ctx, []domain.Account{{ID: a}})
		}()
		assert.True(t, f.coord.RetireAccount(a))
		<-done

		_, stored := f.store.Account(a)
		assert.False(t, stored)
		assert.NotContains(t, f.coord.ObservedAccounts(), a)
	}
	assert.False(t, f.coord.RetireAccount(uuid.New().String()))
}

func TestEndedObserverIsDroppedAndReplaced(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()
	require.NoError(t, f.coord.Start(ctx))

	a := uuid.New()
	f.store.AddAccounts([]domain.Account{{ID: a.String()}})
	require.NoError(t, f.coord.EnsureObserving(ctx, f.store.Accounts()))
	require.Equal(t, []string{a.String()}, f.coord.ObservedAccounts())

	f.provider.BreakBalances(a, errors.New("balance feed broke"))
	f.provider.BreakTransactions(a, errors.New("transaction feed broke"))
	require.Eventually(t, func() bool {
		return len(f.coord.Status().ObservedAccounts) == 0
	}, waitFor, tick)

	// nothing stands in the way of a fresh observer
	require.NoError(t, f.coord.EnsureObserving(ctx, f.store.Accounts()))
	assert.Equal(t, []string{a.String()}, f.coord.ObservedAccounts())
}

func TestEnsureObservingSkipsUnknownAccounts(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()
	require.NoError(t, f.coord.Start(ctx))

	require.NoError(t, f.coord.EnsureObserving(ctx, []domain.Account{{ID: uuid.New().String()}}))
	assert.Empty(t, f.coord.ObservedAccounts())
}

func TestEnsureObservingReportsOpenFailures(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()
	require.NoError(t, f.coord.Start(ctx))

	good := uuid.New().String()
	f.store.AddAccounts([]domain.Account{{ID: good}, {ID: "not-a-uuid"}})

	err := f.coord.EnsureObserving(ctx, f.store.Accounts())
	assert.Error(t, err)
	assert.Equal(t, []string{good}, f.coord.ObservedAccounts())

	boom := errors.New("balance service down")
	f.coord.StopAll()
	f.provider.FailOpen(domain.ResourceBalances, boom)
	err = f.coord.EnsureObserving(ctx, []domain.Account{{ID: good}})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.coord.ObservedAccounts())
}

func TestRestartResumesFromCursors(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	provider := memfeed.New(feed.Authorized)

	a := uuid.New()
	provider.PublishAccounts(feed.Batch[feed.Account]{Inserted: []feed.Account{account(a, "A")}})
	provider.PublishTransactions(a, feed.Batch[feed.Transaction]{Inserted: []feed.Transaction{{ID: uuid.New(), Amount: decimal.NewFromInt(5), Indicator: feed.Debit}}})

	first := newFixtureWithBacking(t, feed.Authorized, backing, provider)
	require.NoError(t, first.coord.Start(ctx))
	require.Eventually(t, func() bool {
		c, err := first.cursors.Get(ctx, domain.ResourceTransactions, a.String())
		return err == nil && c != nil
	}, waitFor, tick)
	require.NoError(t, first.coord.Shutdown(ctx))
	require.NoError(t, first.store.Flush(ctx))

	second := newFixtureWithBacking(t, feed.Authorized, backing, provider)
	assert.Len(t, second.store.Accounts(), 1)
	assert.Len(t, second.store.Transactions(), 1)

	require.NoError(t, second.coord.Start(ctx))
	assert.Equal(t, []string{a.String()}, second.coord.ObservedAccounts())

	provider.PublishTransactions(a, feed.Batch[feed.Transaction]{Inserted: []feed.Transaction{{ID: uuid.New()}}})
	require.Eventually(t, func() bool {
		return len(second.store.Transactions()) == 2
	}, waitFor, tick)
}

func TestShutdownStopsEverything(t *testing.T) {
	f := newFixture(t, feed.Authorized)
	ctx := context.Background()

	f.store.AddAccounts([]domain.Account{{ID: uuid.New().String()}})
	require.NoError(t, f.coord.Start(ctx))
	f.coord.ScheduleEnsureObserving()

	require.NoError(t, f.coord.Shutdown(ctx))
	require.NoError(t, f.coord.Shutdown(ctx))
	assert.Empty(t, f.coord.ObservedAccounts())
	assert.False(t, f.coord.Status().AccountFeedRunning)
	assert.Error(t, f.coord.Start(ctx))
}

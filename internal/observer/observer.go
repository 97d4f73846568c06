// Package observer owns the balance and transaction feed subscriptions of a
// single account.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/walletsync/internal/cursor"
	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/reconcile"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of an Observer.
type State string

const (
	Idle      State = "idle"
	Observing State = "observing"
	Stopped   State = "stopped"
)

// ErrNotIdle is returned by Start on an observer that was already started or stopped.
var ErrNotIdle = errors.New("observer: already started")

// Deps are the collaborators shared by every observer.
type Deps struct {
	Provider   feed.Provider
	Cursors    *cursor.Store
	Store      *store.Store
	Reconciler *reconcile.Reconciler
	Log        zerolog.Logger
}

// Observer consumes one account's balance and transaction feeds, each in its
// own goroutine. A batch is applied, flushed to durable storage and only
// then is the feed's cursor advanced.
type Observer struct {
	accountID  string
	upstreamID uuid.UUID
	deps       Deps
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu           sync.Mutex
	state        State
	balances     feed.Feed[feed.Balance]
	transactions feed.Feed[feed.Transaction]
}

// New creates an idle observer. The observer's goroutines live until Stop is
// called or parent is done.
func New(parent context.Context, accountID string, deps Deps) (*Observer, error) {
	upstreamID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", accountID, err)
	}

	ctx, cancel := context.WithCancel(parent)
	return &Observer{
		accountID:  accountID,
		upstreamID: upstreamID,
		deps:       deps,
		log:        deps.Log.With().Str("account_id", accountID).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      Idle,
	}, nil
}

// AccountID returns the observed account.
func (o *Observer) AccountID() string {
	return o.accountID
}

// State returns the current lifecycle state.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Done is closed once both feed goroutines have exited, whether through Stop
// or because both feeds ended on their own.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// Start loads both cursors and opens both feeds. Errors loading a cursor or
// opening a feed are returned and leave the observer stopped.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != Idle {
		return ErrNotIdle
	}

	if err := o.open(ctx); err != nil {
		o.state = Stopped
		o.cancel()
		close(o.done)
		return err
	}

	o.state = Observing
	o.wg.Add(2)
	go consume(o, domain.ResourceBalances, o.balances, o.applyBalances)
	go consume(o, domain.ResourceTransactions, o.transactions, o.applyTransactions)
	go func() {
		o.wg.Wait()
		o.finish()
		close(o.done)
	}()

	o.log.Info().Msg("Started observing account")
	return nil
}

func (o *Observer) open(ctx context.Context) error {
	balanceCursor, err := o.deps.Cursors.Get(ctx, domain.ResourceBalances, o.accountID)
	if err != nil {
		return err
	}
	transactionCursor, err := o.deps.Cursors.Get(ctx, domain.ResourceTransactions, o.accountID)
	if err != nil {
		return err
	}

	balances, err := o.deps.Provider.BalanceChanges(ctx, o.upstreamID, balanceCursor)
	if err != nil {
		return fmt.Errorf("open balance feed for %s: %w", o.accountID, err)
	}
	transactions, err := o.deps.Provider.TransactionChanges(ctx, o.upstreamID, transactionCursor)
	if err != nil {
		_ = balances.Close()
		return fmt.Errorf("open transaction feed for %s: %w", o.accountID, err)
	}

	o.balances = balances
	o.transactions = transactions
	return nil
}

// Stop cancels both feed goroutines, closes the feeds and waits for the
// goroutines to exit. It is safe to call more than once.
func (o *Observer) Stop() {
	o.mu.Lock()
	if o.state == Stopped {
		o.mu.Unlock()
		<-o.done
		return
	}
	wasIdle := o.state == Idle
	o.state = Stopped
	o.cancel()

	balances, transactions := o.balances, o.transactions
	o.balances, o.transactions = nil, nil
	o.mu.Unlock()

	if wasIdle {
		close(o.done)
		return
	}

	if err := balances.Close(); err != nil {
		o.log.Debug().Err(err).Msg("Failed to close balance feed")
	}
	if err := transactions.Close(); err != nil {
		o.log.Debug().Err(err).Msg("Failed to close transaction feed")
	}
	<-o.done
	o.log.Info().Msg("Stopped observing account")
}

// finish moves an observer whose feeds all ended by themselves to Stopped.
func (o *Observer) finish() {
	o.mu.Lock()
	if o.state != Observing {
		o.mu.Unlock()
		return
	}
	o.state = Stopped
	o.cancel()
	balances, transactions := o.balances, o.transactions
	o.balances, o.transactions = nil, nil
	o.mu.Unlock()

	_ = balances.Close()
	_ = transactions.Close()
	o.log.Warn().Msg("Account feeds ended, observer stopped")
}

func (o *Observer) applyBalances(b feed.Batch[feed.Balance]) error {
	_, err := o.deps.Reconciler.ApplyBalanceChanges(o.accountID, b)
	return err
}

func (o *Observer) applyTransactions(b feed.Batch[feed.Transaction]) error {
	o.deps.Reconciler.ApplyTransactionChanges(o.accountID, b)
	return nil
}

// consume is the body of one feed goroutine.
func consume[T any](o *Observer, kind domain.ResourceKind, f feed.Feed[T], apply func(feed.Batch[T]) error) {
	defer o.wg.Done()
	log := o.log.With().Str("resource", string(kind)).Logger()

	for {
		b, err := f.Next(o.ctx)
		if err != nil {
			switch {
			case o.ctx.Err() != nil, errors.Is(err, feed.ErrClosed):
				log.Debug().Msg("Feed consumer stopped")
			case errors.Is(err, domain.ErrUnauthorized):
				log.Warn().Err(err).Msg("Feed aborted, access not granted")
			default:
				log.Error().Err(err).Msg("Error observing feed")
			}
			return
		}

		if err := apply(b); err != nil {
			log.Error().Err(err).Msg("Failed to apply batch, cursor not advanced")
			return
		}
		if err := o.deps.Store.Flush(o.ctx); err != nil {
			log.Error().Err(err).Msg("Failed to persist batch, cursor not advanced")
			return
		}
		if err := o.deps.Cursors.Set(o.ctx, kind, o.accountID, b.NewCursor); err != nil {
			log.Error().Err(err).Msg("Failed to persist cursor")
			return
		}
	}
}

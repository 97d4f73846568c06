// Package syncer contains the sync coordinator: it owns the authorization
// state, consumes the account feed and keeps exactly one observer running
// per known account.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/walletsync/internal/cursor"
	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/observer"
	"github.com/dvloznov/walletsync/internal/reconcile"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/rs/zerolog"
)

// DefaultSettleDelay is how long to wait after new accounts appear before
// starting their observers.
const DefaultSettleDelay = 3 * time.Second

// Options configures a Coordinator.
type Options struct {
	SettleDelay time.Duration
	// ReconcileOptions are passed to the reconciler the coordinator builds.
	ReconcileOptions []reconcile.Option
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Authorization      feed.AuthorizationState `json:"authorization"`
	AccountFeedRunning bool                    `json:"account_feed_running"`
	ObservedAccounts   []string                `json:"observed_accounts"`
}

// Coordinator is the top-level sync orchestrator. Construct one per process
// and pass it to whoever needs it.
type Coordinator struct {
	provider    feed.Provider
	store       *store.Store
	cursors     *cursor.Store
	reconciler  *reconcile.Reconciler
	log         zerolog.Logger
	settleDelay time.Duration

	mu            sync.Mutex
	base          context.Context
	auth          feed.AuthorizationState
	observers     map[string]*observer.Observer
	accountFeed   feed.Feed[feed.Account]
	accountCancel context.CancelFunc
	accountDone   chan struct{}
	timers        map[*time.Timer]struct{}
	closed        bool
}

// New creates a coordinator. Nothing runs until Start or RequestAuthorization.
func New(provider feed.Provider, st *store.Store, cursors *cursor.Store, log zerolog.Logger, opts Options) *Coordinator {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	c := &Coordinator{
		provider:    provider,
		store:       st,
		cursors:     cursors,
		log:         log,
		settleDelay: opts.SettleDelay,
		auth:        feed.NotDetermined,
		observers:   make(map[string]*observer.Observer),
		timers:      make(map[*time.Timer]struct{}),
	}
	c.reconciler = reconcile.New(st, c, log, opts.ReconcileOptions...)
	return c
}

// Reconciler returns the reconciler shared by the account feed and observers.
func (c *Coordinator) Reconciler() *reconcile.Reconciler {
	return c.reconciler
}

// Start reads the current authorization state and, when access is granted,
// begins syncing. ctx bounds the lifetime of every sync goroutine. When
// access is not granted it returns domain.ErrUnauthorized; the coordinator
// stays usable and can be started later with RequestAuthorization.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("syncer: coordinator is shut down")
	}
	c.base = ctx
	c.mu.Unlock()

	state, err := c.provider.AuthorizationStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read authorization status: %w", err)
	}
	c.setAuthorization(state)

	if state != feed.Authorized {
		c.log.Warn().Str("state", string(state)).Msg("Financial data access not granted, sync not started")
		return domain.ErrUnauthorized
	}
	return c.startSyncing(ctx)
}

// RequestAuthorization asks the provider for access. Granting starts
// syncing; a denial stops everything.
func (c *Coordinator) RequestAuthorization(ctx context.Context) (feed.AuthorizationState, error) {
	state, err := c.provider.RequestAuthorization(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to request authorization: %w", err)
	}
	c.setAuthorization(state)
	c.log.Info().Str("state", string(state)).Msg("Authorization requested")

	switch state {
	case feed.Authorized:
		if err := c.startSyncing(ctx); err != nil {
			return state, err
		}
	case feed.Denied:
		c.stopSyncing()
	}
	return state, nil
}

// Authorization returns the last known authorization state.
func (c *Coordinator) Authorization() feed.AuthorizationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

func (c *Coordinator) setAuthorization(state feed.AuthorizationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = state
}

func (c *Coordinator) baseContext() context.Context {
	if c.base == nil {
		return context.Background()
	}
	return c.base
}

// startSyncing opens the account feed, unless it is already open, and
// ensures every stored account is observed.
func (c *Coordinator) startSyncing(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("syncer: coordinator is shut down")
	}
	if c.accountFeed == nil {
		if err := c.openAccountFeed(ctx); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	return c.EnsureObserving(ctx, c.store.Accounts())
}

// openAccountFeed must be called with c.mu held.
func (c *Coordinator) openAccountFeed(ctx context.Context) error {
	since, err := c.cursors.Get(ctx, domain.ResourceAccounts, "")
	if err != nil {
		return err
	}
	f, err := c.provider.AccountChanges(ctx, since)
	if err != nil {
		return fmt.Errorf("open account feed: %w", err)
	}

	runCtx, cancel := context.WithCancel(c.baseContext())
	done := make(chan struct{})
	c.accountFeed = f
	c.accountCancel = cancel
	c.accountDone = done

	go c.runAccountFeed(runCtx, f, done)
	c.log.Info().Bool("resumed", since != nil).Msg("Started account sync")
	return nil
}

func (c *Coordinator) runAccountFeed(ctx context.Context, f feed.Feed[feed.Account], done chan struct{}) {
	defer close(done)
	defer c.clearAccountFeed(f)
	log := c.log.With().Str("resource", string(domain.ResourceAccounts)).Logger()

	for {
		b, err := f.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, feed.ErrClosed):
				log.Debug().Msg("Account feed consumer stopped")
			case errors.Is(err, domain.ErrUnauthorized):
				log.Warn().Err(err).Msg("Account feed aborted, access not granted")
			default:
				log.Error().Err(err).Msg("Error observing account feed")
			}
			return
		}

		res := c.reconciler.ApplyAccountChanges(b)
		if !res.Empty() {
			log.Info().
				Int("inserted", res.Inserted).
				Int("updated", res.Updated).
				Int("deleted", res.Deleted).
				Int("skipped", res.Skipped).
				Msg("Applied account changes")
		}

		if err := c.store.Flush(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to persist accounts, cursor not advanced")
			return
		}
		if err := c.cursors.Set(ctx, domain.ResourceAccounts, "", b.NewCursor); err != nil {
			log.Error().Err(err).Msg("Failed to persist account cursor")
			return
		}
	}
}

// clearAccountFeed forgets f once its goroutine exits so a later
// authorization can reopen the feed.
func (c *Coordinator) clearAccountFeed(f feed.Feed[feed.Account]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accountFeed == f {
		c.accountFeed = nil
		c.accountCancel = nil
		c.accountDone = nil
	}
	_ = f.Close()
}

// EnsureObserving starts an observer for each account that lacks one.
// It is idempotent. Failures to start individual observers are joined and
// returned; the other accounts are still observed.
func (c *Coordinator) EnsureObserving(ctx context.Context, accounts []domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if c.auth != feed.Authorized {
		return domain.ErrUnauthorized
	}

	var errs []error
	for _, a := range accounts {
		if _, ok := c.observers[a.ID]; ok {
			continue
		}
		// The account may have been deleted since the caller took its snapshot.
		if _, ok := c.store.Account(a.ID); !ok {
			continue
		}

		o, err := observer.New(c.baseContext(), a.ID, observer.Deps{
			Provider:   c.provider,
			Cursors:    c.cursors,
			Store:      c.store,
			Reconciler: c.reconciler,
			Log:        c.log,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := o.Start(ctx); err != nil {
			c.log.Error().Err(err).Str("account_id", a.ID).Msg("Failed to start account observer")
			errs = append(errs, err)
			continue
		}
		c.observers[a.ID] = o
		go c.forgetWhenDone(o)
	}
	return errors.Join(errs...)
}

// forgetWhenDone drops o from the registry once its feeds have ended, so
// the next EnsureObserving can replace it.
func (c *Coordinator) forgetWhenDone(o *observer.Observer) {
	<-o.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.observers[o.AccountID()] == o {
		delete(c.observers, o.AccountID())
		c.log.Warn().Str("account_id", o.AccountID()).Msg("Account observer ended, dropped from registry")
	}
}

// StopObserving stops and forgets the observer of one account.
func (c *Coordinator) StopObserving(accountID string) {
	c.mu.Lock()
	o, ok := c.observers[accountID]
	delete(c.observers, accountID)
	c.mu.Unlock()

	if ok {
		o.Stop()
	}
}

// RetireAccount stops the observer of accountID and then removes the
// account from the store. c.mu is held across both so EnsureObserving never
// sees the account without its observer.
func (c *Coordinator) RetireAccount(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o, ok := c.observers[accountID]; ok {
		delete(c.observers, accountID)
		o.Stop()
	}
	return c.store.RemoveAccount(accountID)
}

// StopAll stops every observer and clears the registry.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	observers := c.observers
	c.observers = make(map[string]*observer.Observer)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, o := range observers {
		wg.Add(1)
		go func(o *observer.Observer) {
			defer wg.Done()
			o.Stop()
		}(o)
	}
	wg.Wait()
}

// ObservedAccounts returns the ids of observed accounts in sorted order.
func (c *Coordinator) ObservedAccounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	observed := c.ObservedAccounts()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Authorization:      c.auth,
		AccountFeedRunning: c.accountFeed != nil,
		ObservedAccounts:   observed,
	}
}

// ScheduleEnsureObserving runs EnsureObserving for all stored accounts once
// the settle delay has passed.
func (c *Coordinator) ScheduleEnsureObserving() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(c.settleDelay, func() {
		c.mu.Lock()
		delete(c.timers, t)
		ctx := c.baseContext()
		c.mu.Unlock()

		if err := c.EnsureObserving(ctx, c.store.Accounts()); err != nil {
			c.log.Warn().Err(err).Msg("Failed to observe new accounts")
		}
	})
	c.timers[t] = struct{}{}
}

// stopSyncing closes the account feed, cancels pending settle timers and
// stops every observer.
func (c *Coordinator) stopSyncing() {
	c.mu.Lock()
	cancel, f, done := c.accountCancel, c.accountFeed, c.accountDone
	for t := range c.timers {
		t.Stop()
		delete(c.timers, t)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = f.Close()
		<-done
	}
	c.StopAll()
}

// Shutdown stops all sync activity. The coordinator cannot be restarted.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.stopSyncing()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info().Msg("Sync coordinator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

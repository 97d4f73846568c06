// Package memfeed is an in-process feed.Provider. Batches are published by
// the caller and kept for the life of the provider, so feeds can be resumed
// from any cursor it handed out.
package memfeed

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/google/uuid"
)

// Provider implements feed.Provider in memory. It is safe for concurrent use.
type Provider struct {
	mu           sync.Mutex
	state        feed.AuthorizationState
	onRequest    feed.AuthorizationState
	authChanged  chan struct{}
	accounts     *stream[feed.Account]
	balances     map[uuid.UUID]*stream[feed.Balance]
	transactions map[uuid.UUID]*stream[feed.Transaction]
	openErr      map[domain.ResourceKind]error
}

// New creates a provider in the given authorization state. Requesting
// authorization grants access unless SetRequestOutcome says otherwise.
func New(state feed.AuthorizationState) *Provider {
	return &Provider{
		state:        state,
		onRequest:    feed.Authorized,
		authChanged:  make(chan struct{}),
		accounts:     newStream[feed.Account](),
		balances:     make(map[uuid.UUID]*stream[feed.Balance]),
		transactions: make(map[uuid.UUID]*stream[feed.Transaction]),
		openErr:      make(map[domain.ResourceKind]error),
	}
}

// AuthorizationStatus implements feed.Provider.
func (p *Provider) AuthorizationStatus(ctx context.Context) (feed.AuthorizationState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

// RequestAuthorization implements feed.Provider.
func (p *Provider) RequestAuthorization(ctx context.Context) (feed.AuthorizationState, error) {
	p.mu.Lock()
	outcome := p.onRequest
	p.mu.Unlock()

	p.SetAuthorization(outcome)
	return outcome, nil
}

// SetRequestOutcome sets the state RequestAuthorization will grant.
func (p *Provider) SetRequestOutcome(state feed.AuthorizationState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRequest = state
}

// SetAuthorization changes the authorization state. Open feeds fail with
// domain.ErrUnauthorized on their next read once access is withdrawn.
func (p *Provider) SetAuthorization(state feed.AuthorizationState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	close(p.authChanged)
	p.authChanged = make(chan struct{})
}

// FailOpen makes every subsequent open of the given feed kind fail with err.
// A nil err clears the failure.
func (p *Provider) FailOpen(kind domain.ResourceKind, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.openErr, kind)
		return
	}
	p.openErr[kind] = err
}

// PublishAccounts appends a batch to the account feed.
func (p *Provider) PublishAccounts(b feed.Batch[feed.Account]) {
	p.accounts.append(entry[feed.Account]{batch: b})
}

// PublishBalances appends a batch to the balance feed of accountID.
func (p *Provider) PublishBalances(accountID uuid.UUID, b feed.Batch[feed.Balance]) {
	p.balanceStream(accountID).append(entry[feed.Balance]{batch: b})
}

// PublishTransactions appends a batch to the transaction feed of accountID.
func (p *Provider) PublishTransactions(accountID uuid.UUID, b feed.Batch[feed.Transaction]) {
	p.transactionStream(accountID).append(entry[feed.Transaction]{batch: b})
}

// BreakAccounts makes the account feed return err once readers reach the
// current end of the stream. The failure does not consume a cursor position.
func (p *Provider) BreakAccounts(err error) {
	p.accounts.append(entry[feed.Account]{err: err})
}

// BreakBalances is BreakAccounts for the balance feed of accountID.
func (p *Provider) BreakBalances(accountID uuid.UUID, err error) {
	p.balanceStream(accountID).append(entry[feed.Balance]{err: err})
}

// BreakTransactions is BreakAccounts for the transaction feed of accountID.
func (p *Provider) BreakTransactions(accountID uuid.UUID, err error) {
	p.transactionStream(accountID).append(entry[feed.Transaction]{err: err})
}

// AccountChanges implements feed.Provider.
func (p *Provider) AccountChanges(ctx context.Context, since domain.Cursor) (feed.Feed[feed.Account], error) {
	if err := p.checkOpen(domain.ResourceAccounts); err != nil {
		return nil, err
	}
	return openFeed(p, p.accounts, since)
}

// BalanceChanges implements feed.Provider.
func (p *Provider) BalanceChanges(ctx context.Context, accountID uuid.UUID, since domain.Cursor) (feed.Feed[feed.Balance], error) {
	if err := p.checkOpen(domain.ResourceBalances); err != nil {
		return nil, err
	}
	return openFeed(p, p.balanceStream(accountID), since)
}

// TransactionChanges implements feed.Provider.
func (p *Provider) TransactionChanges(ctx context.Context, accountID uuid.UUID, since domain.Cursor) (feed.Feed[feed.Transaction], error) {
	if err := p.checkOpen(domain.ResourceTransactions); err != nil {
		return nil, err
	}
	return openFeed(p, p.transactionStream(accountID), since)
}

func (p *Provider) checkOpen(kind domain.ResourceKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != feed.Authorized {
		return domain.ErrUnauthorized
	}
	if err := p.openErr[kind]; err != nil {
		return fmt.Errorf("open %s feed: %w", kind, err)
	}
	return nil
}

// authorized returns the current state check and a channel closed on change.
func (p *Provider) authorized() (bool, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == feed.Authorized, p.authChanged
}

func (p *Provider) balanceStream(id uuid.UUID) *stream[feed.Balance] {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.balances[id]
	if !ok {
		s = newStream[feed.Balance]()
		p.balances[id] = s
	}
	return s
}

func (p *Provider) transactionStream(id uuid.UUID) *stream[feed.Transaction] {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.transactions[id]
	if !ok {
		s = newStream[feed.Transaction]()
		p.transactions[id] = s
	}
	return s
}

// EncodeCursor returns the cursor that resumes a feed at position pos.
func EncodeCursor(pos int) domain.Cursor {
	return domain.Cursor(strconv.Itoa(pos))
}

// DecodeCursor is the inverse of EncodeCursor. A nil cursor is position 0.
func DecodeCursor(c domain.Cursor) (int, error) {
	if c == nil {
		return 0, nil
	}
	pos, err := strconv.Atoi(string(c))
	if err != nil || pos < 0 {
		return 0, fmt.Errorf("memfeed: invalid cursor %q", string(c))
	}
	return pos, nil
}

// Package feed defines the upstream change-feed provider that the sync core
// consumes, together with the upstream record shapes it yields.
package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/google/uuid"
)

// ErrClosed is returned by Next once the feed has been closed.
var ErrClosed = errors.New("feed: closed")

// AuthorizationState is the provider's answer to whether its data may be read.
type AuthorizationState string

const (
	NotDetermined AuthorizationState = "notDetermined"
	Authorized    AuthorizationState = "authorized"
	Denied        AuthorizationState = "denied"
)

// ParseAuthorizationState validates a state given as text.
func ParseAuthorizationState(s string) (AuthorizationState, error) {
	switch st := AuthorizationState(s); st {
	case NotDetermined, Authorized, Denied:
		return st, nil
	default:
		return "", fmt.Errorf("unknown authorization state %q", s)
	}
}

// Batch is one delivery of a change feed. NewCursor resumes the feed right
// after this batch.
type Batch[T any] struct {
	Inserted  []T
	Updated   []T
	Deleted   []uuid.UUID
	NewCursor domain.Cursor
}

// Empty reports whether the batch carries no changes.
func (b Batch[T]) Empty() bool {
	return len(b.Inserted) == 0 && len(b.Updated) == 0 && len(b.Deleted) == 0
}

// Feed is a live change feed. Next blocks until a batch is available,
// the context is done, or the feed is closed.
type Feed[T any] interface {
	Next(ctx context.Context) (Batch[T], error)
	Close() error
}

// Provider is the upstream financial data source.
type Provider interface {
	// AuthorizationStatus returns the current state without prompting.
	AuthorizationStatus(ctx context.Context) (AuthorizationState, error)

	// RequestAuthorization asks for access and returns the resulting state.
	RequestAuthorization(ctx context.Context) (AuthorizationState, error)

	// AccountChanges opens the account feed after since (nil: from the start).
	AccountChanges(ctx context.Context, since domain.Cursor) (Feed[Account], error)

	// BalanceChanges opens the balance feed of one account.
	BalanceChanges(ctx context.Context, accountID uuid.UUID, since domain.Cursor) (Feed[Balance], error)

	// TransactionChanges opens the transaction feed of one account.
	TransactionChanges(ctx context.Context, accountID uuid.UUID, since domain.Cursor) (Feed[Transaction], error)
}

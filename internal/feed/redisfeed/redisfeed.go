// Package redisfeed implements feed.Provider on top of Redis Streams.
//
// Each change feed is one stream. Every stream entry carries a single
// batch, JSON encoded in the "batch" field, and the cursor of a feed is the
// ID of the last entry consumed.
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const batchField = "batch"

// Options configures the provider.
type Options struct {
	// Prefix namespaces every key, e.g. "walletsync".
	Prefix string
	// BlockTimeout bounds a single XREAD call. Next keeps waiting across calls.
	BlockTimeout time.Duration
	// GrantOnRequest makes RequestAuthorization grant access when the state
	// is still notDetermined.
	GrantOnRequest bool
}

// Provider reads change feeds from Redis.
type Provider struct {
	client *redis.Client
	keys   keys
	opts   Options
	log    zerolog.Logger
}

// New creates a provider using an already connected client.
func New(client *redis.Client, opts Options, log zerolog.Logger) *Provider {
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	return &Provider{
		client: client,
		keys:   keys{prefix: opts.Prefix},
		opts:   opts,
		log:    log,
	}
}

// AuthorizationStatus implements feed.Provider. A missing key is notDetermined.
func (p *Provider) AuthorizationStatus(ctx context.Context) (feed.AuthorizationState, error) {
	return readAuthorization(ctx, p.client, p.keys.authorization())
}

// RequestAuthorization implements feed.Provider.
func (p *Provider) RequestAuthorization(ctx context.Context) (feed.AuthorizationState, error) {
	state, err := p.AuthorizationStatus(ctx)
	if err != nil {
		return "", err
	}
	if state != feed.NotDetermined || !p.opts.GrantOnRequest {
		return state, nil
	}
	if err := p.client.Set(ctx, p.keys.authorization(), string(feed.Authorized), 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store authorization: %w", err)
	}
	p.log.Info().Msg("Authorization granted on request")
	return feed.Authorized, nil
}

// AccountChanges implements feed.Provider.
func (p *Provider) AccountChanges(ctx context.Context, since domain.Cursor) (feed.Feed[feed.Account], error) {
	return openFeed[feed.Account](ctx, p, p.keys.accounts(), since)
}

// BalanceChanges implements feed.Provider.
func (p *Provider) BalanceChanges(ctx context.Context, accountID uuid.UUID, since domain.Cursor) (feed.Feed[feed.Balance], error) {
	return openFeed[feed.Balance](ctx, p, p.keys.balances(accountID), since)
}

// TransactionChanges implements feed.Provider.
func (p *Provider) TransactionChanges(ctx context.Context, accountID uuid.UUID, since domain.Cursor) (feed.Feed[feed.Transaction], error) {
	return openFeed[feed.Transaction](ctx, p, p.keys.transactions(accountID), since)
}

func (p *Provider) requireAuthorized(ctx context.Context) error {
	state, err := p.AuthorizationStatus(ctx)
	if err != nil {
		return err
	}
	if state != feed.Authorized {
		return domain.ErrUnauthorized
	}
	return nil
}

type streamFeed[T any] struct {
	p      *Provider
	stream string
	lastID string

	closeCtx context.Context
	close    context.CancelFunc
}

func openFeed[T any](ctx context.Context, p *Provider, stream string, since domain.Cursor) (feed.Feed[T], error) {
	if err := p.requireAuthorized(ctx); err != nil {
		return nil, err
	}

	lastID := "0"
	if since != nil {
		lastID = string(since)
	}

	closeCtx, cancel := context.WithCancel(context.Background())
	p.log.Debug().Str("stream", stream).Str("since", lastID).Msg("Opened change feed")
	return &streamFeed[T]{
		p:        p,
		stream:   stream,
		lastID:   lastID,
		closeCtx: closeCtx,
		close:    cancel,
	}, nil
}

// Next reads exactly one stream entry, so every batch gets its own cursor.
func (f *streamFeed[T]) Next(ctx context.Context) (feed.Batch[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.closeCtx, cancel)
	defer stop()

	for {
		if f.closeCtx.Err() != nil {
			return feed.Batch[T]{}, feed.ErrClosed
		}
		if err := f.p.requireAuthorized(ctx); err != nil {
			return feed.Batch[T]{}, f.wrap(err)
		}

		streams, err := f.p.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{f.stream, f.lastID},
			Count:   1,
			Block:   f.p.opts.BlockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return feed.Batch[T]{}, f.wrap(err)
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				f.lastID = msg.ID
				b, err := decodeMessage[T](msg)
				if err != nil {
					// Only the malformed records are dropped; the rest of the entry is applied.
					f.p.log.Warn().Err(err).
						Str("stream", f.stream).
						Str("entry_id", msg.ID).
						Int("decoded", len(b.Inserted)+len(b.Updated)+len(b.Deleted)).
						Msg("Dropping malformed feed records")
				}
				b.NewCursor = domain.Cursor(msg.ID)
				return b, nil
			}
		}
	}
}

func (f *streamFeed[T]) wrap(err error) error {
	if f.closeCtx.Err() != nil {
		return feed.ErrClosed
	}
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: read %s: %v", domain.ErrFeedFailure, f.stream, err)
}

func (f *streamFeed[T]) Close() error {
	f.close()
	return nil
}

func readAuthorization(ctx context.Context, client *redis.Client, key string) (feed.AuthorizationState, error) {
	v, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return feed.NotDetermined, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read authorization: %w", err)
	}
	return feed.ParseAuthorizationState(v)
}

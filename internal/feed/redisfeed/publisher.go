package redisfeed

import (
	"context"
	"fmt"

	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher appends batches to the streams a Provider reads. It is the
// upstream side, used by the CLI and by integration setups.
type Publisher struct {
	client *redis.Client
	keys   keys
}

// NewPublisher creates a publisher writing under prefix.
func NewPublisher(client *redis.Client, prefix string) *Publisher {
	return &Publisher{client: client, keys: keys{prefix: prefix}}
}

// SetAuthorization stores the authorization state readers observe.
func (p *Publisher) SetAuthorization(ctx context.Context, state feed.AuthorizationState) error {
	if err := p.client.Set(ctx, p.keys.authorization(), string(state), 0).Err(); err != nil {
		return fmt.Errorf("failed to store authorization: %w", err)
	}
	return nil
}

// Authorization returns the stored authorization state.
func (p *Publisher) Authorization(ctx context.Context) (feed.AuthorizationState, error) {
	return readAuthorization(ctx, p.client, p.keys.authorization())
}

// PublishAccounts appends a batch to the account feed and returns its entry ID.
func (p *Publisher) PublishAccounts(ctx context.Context, b feed.Batch[feed.Account]) (string, error) {
	return publish(ctx, p.client, p.keys.accounts(), b)
}

// PublishBalances appends a batch to one account's balance feed.
func (p *Publisher) PublishBalances(ctx context.Context, accountID uuid.UUID, b feed.Batch[feed.Balance]) (string, error) {
	return publish(ctx, p.client, p.keys.balances(accountID), b)
}

// PublishTransactions appends a batch to one account's transaction feed.
func (p *Publisher) PublishTransactions(ctx context.Context, accountID uuid.UUID, b feed.Batch[feed.Transaction]) (string, error) {
	return publish(ctx, p.client, p.keys.transactions(accountID), b)
}

func publish[T any](ctx context.Context, client *redis.Client, stream string, b feed.Batch[T]) (string, error) {
	if err := feed.ValidateBatch(b); err != nil {
		return "", fmt.Errorf("invalid batch for %s: %w", stream, err)
	}

	data, err := encodeBatch(b)
	if err != nil {
		return "", err
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{batchField: string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish batch to %s: %w", stream, err)
	}
	return id, nil
}

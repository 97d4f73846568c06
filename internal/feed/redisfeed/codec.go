package redisfeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// wireBatch is the JSON stored in a stream entry. The cursor is not part of
// it; it is the entry ID.
type wireBatch[T any] struct {
	Inserted []T         `json:"inserted,omitempty"`
	Updated  []T         `json:"updated,omitempty"`
	Deleted  []uuid.UUID `json:"deleted,omitempty"`
}

func encodeBatch[T any](b feed.Batch[T]) ([]byte, error) {
	data, err := json.Marshal(wireBatch[T]{Inserted: b.Inserted, Updated: b.Updated, Deleted: b.Deleted})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}
	return data, nil
}

// rawBatch defers record decoding so one malformed record only costs itself.
type rawBatch struct {
	Inserted []json.RawMessage `json:"inserted"`
	Updated  []json.RawMessage `json:"updated"`
	Deleted  []json.RawMessage `json:"deleted"`
}

// decodeBatch returns every record that decodes. The error reports the
// dropped records, or an envelope that is not a batch at all.
func decodeBatch[T any](data []byte) (feed.Batch[T], error) {
	var raw rawBatch
	if err := json.Unmarshal(data, &raw); err != nil {
		return feed.Batch[T]{}, fmt.Errorf("failed to unmarshal batch: %w", err)
	}

	var errs []error
	b := feed.Batch[T]{
		Inserted: decodeRecords[T]("inserted", raw.Inserted, &errs),
		Updated:  decodeRecords[T]("updated", raw.Updated, &errs),
		Deleted:  decodeRecords[uuid.UUID]("deleted", raw.Deleted, &errs),
	}
	return b, errors.Join(errs...)
}

func decodeRecords[T any](section string, raw []json.RawMessage, errs *[]error) []T {
	if len(raw) == 0 {
		return nil
	}
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			*errs = append(*errs, fmt.Errorf("%s[%d]: %w", section, i, err))
			continue
		}
		out = append(out, v)
	}
	return out
}

// ParseBatch decodes a batch in the stream entry format, e.g. a file handed
// to the publish command. Callers treating input strictly should reject the
// batch on any error.
func ParseBatch[T any](data []byte) (feed.Batch[T], error) {
	return decodeBatch[T](data)
}

func decodeMessage[T any](msg redis.XMessage) (feed.Batch[T], error) {
	raw, ok := msg.Values[batchField].(string)
	if !ok {
		return feed.Batch[T]{}, fmt.Errorf("invalid message format: missing %q field", batchField)
	}
	return decodeBatch[T]([]byte(raw))
}

type keys struct {
	prefix string
}

func (k keys) key(parts ...string) string {
	out := k.prefix
	for _, p := range parts {
		if out != "" {
			out += ":"
		}
		out += p
	}
	return out
}

func (k keys) authorization() string { return k.key("authorization") }
func (k keys) accounts() string      { return k.key("accounts") }

func (k keys) balances(accountID uuid.UUID) string {
	return k.key("balances", accountID.String())
}

func (k keys) transactions(accountID uuid.UUID) string {
	return k.key("transactions", accountID.String())
}

package domain

import "fmt"

// Cursor is an opaque resumption token for one change feed.
// A nil cursor means the feed is consumed from its start.
type Cursor []byte

// Clone returns a copy that does not share the underlying array.
func (c Cursor) Clone() Cursor {
	if c == nil {
		return nil
	}
	return append(Cursor(nil), c...)
}

// ResourceKind names the feed a cursor belongs to.
type ResourceKind string

const (
	ResourceAccounts     ResourceKind = "accounts"
	ResourceBalances     ResourceKind = "balances"
	ResourceTransactions ResourceKind = "transactions"
)

// ParseResourceKind validates a resource kind given as text.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch k := ResourceKind(s); k {
	case ResourceAccounts, ResourceBalances, ResourceTransactions:
		return k, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
}

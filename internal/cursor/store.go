// Package cursor persists the resumption token of every change feed.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/kv"
)

// KeyPrefix namespaces cursor keys inside the shared kv.Store.
const KeyPrefix = "cursor."

// Key returns the kv key of the cursor for kind and scope.
// The account-level cursor uses an empty scope.
func Key(kind domain.ResourceKind, scope string) string {
	return KeyPrefix + string(kind) + "." + scope
}

// Entry is one persisted cursor.
type Entry struct {
	Kind   domain.ResourceKind
	Scope  string
	Cursor domain.Cursor
}

// Store reads and writes cursors verbatim. It never interprets their bytes.
type Store struct {
	kv kv.Store
}

// NewStore creates a cursor store on top of a kv.Store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Get returns the stored cursor, or nil when none has been persisted.
func (s *Store) Get(ctx context.Context, kind domain.ResourceKind, scope string) (domain.Cursor, error) {
	v, err := s.kv.Get(ctx, Key(kind, scope))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cursor get %s/%s: %w", kind, scope, err)
	}
	return domain.Cursor(v), nil
}

// Set durably stores the cursor. When it returns nil the cursor has advanced.
func (s *Store) Set(ctx context.Context, kind domain.ResourceKind, scope string, c domain.Cursor) error {
	if err := s.kv.Put(ctx, Key(kind, scope), c); err != nil {
		return fmt.Errorf("cursor set %s/%s: %w", kind, scope, err)
	}
	return nil
}

// Clear forgets the cursor so the feed restarts from its beginning.
func (s *Store) Clear(ctx context.Context, kind domain.ResourceKind, scope string) error {
	if err := s.kv.Delete(ctx, Key(kind, scope)); err != nil {
		return fmt.Errorf("cursor clear %s/%s: %w", kind, scope, err)
	}
	return nil
}

// List returns every persisted cursor.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("cursor list: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		kind, scope, ok := parseKey(key)
		if !ok {
			continue
		}
		v, err := s.kv.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cursor list %s: %w", key, err)
		}
		entries = append(entries, Entry{Kind: kind, Scope: scope, Cursor: v})
	}
	return entries, nil
}

func parseKey(key string) (domain.ResourceKind, string, bool) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", "", false
	}
	kindText, scope, ok := strings.Cut(rest, ".")
	if !ok {
		return "", "", false
	}
	kind, err := domain.ParseResourceKind(kindText)
	if err != nil {
		return "", "", false
	}
	return kind, scope, true
}

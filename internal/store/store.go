// Package store keeps the in-memory mirror of accounts and transactions and
// writes every change through to durable storage.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/kv"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Keys of the two persisted collection blobs.
const (
	AccountsKey     = "collections.accounts"
	TransactionsKey = "collections.transactions"
)

// Persister accepts full-collection blobs for durable storage.
// *persist.Writer satisfies it.
type Persister interface {
	Enqueue(key string, value []byte) error
	Flush(ctx context.Context) error
}

// Store is the entity store. All methods are safe for concurrent use;
// reads return copies and never touch durable storage.
type Store struct {
	mu           sync.RWMutex
	accounts     []domain.Account
	transactions []domain.Transaction

	persister Persister
	log       zerolog.Logger

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// Open loads both collections from store and returns an entity store that
// writes through persister. Undecodable blobs are logged and treated as empty.
func Open(ctx context.Context, store kv.Store, persister Persister, log zerolog.Logger) (*Store, error) {
	s := &Store{
		persister: persister,
		log:       log,
		subs:      make(map[int]chan Event),
	}

	if err := load(ctx, store, AccountsKey, &s.accounts, log); err != nil {
		return nil, err
	}
	if err := load(ctx, store, TransactionsKey, &s.transactions, log); err != nil {
		return nil, err
	}

	log.Info().
		Int("accounts", len(s.accounts)).
		Int("transactions", len(s.transactions)).
		Msg("Loaded entity store")

	return s, nil
}

func load[T any](ctx context.Context, store kv.Store, key string, dst *[]T, log zerolog.Logger) error {
	data, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		log.Warn().
			Err(fmt.Errorf("%w: %v", domain.ErrDecodeFailure, err)).
			Str("key", key).
			Msg("Persisted collection is corrupt, starting empty")
		return nil
	}
	*dst = items
	return nil
}

// Flush waits until every mutation made so far is durable.
func (s *Store) Flush(ctx context.Context) error {
	return s.persister.Flush(ctx)
}

// Accounts returns a snapshot of all accounts.
func (s *Store) Accounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAccounts(s.accounts)
}

// Account returns a copy of the account with the given ID.
func (s *Store) Account(id string) (domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.accountIndex(id); i >= 0 {
		return s.accounts[i].Clone(), true
	}
	return domain.Account{}, false
}

// AddAccounts appends accounts. An account whose ID is already stored
// replaces the stored value, so the store never holds duplicates.
func (s *Store) AddAccounts(accounts []domain.Account) {
	if len(accounts) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range accounts {
		if i := s.accountIndex(a.ID); i >= 0 {
			s.accounts[i] = a.Clone()
			continue
		}
		s.accounts = append(s.accounts, a.Clone())
	}
	s.accountsChanged()
}

// ReplaceAccounts removes any stored account with the same ID and appends
// the new value. Accounts not yet stored are inserted.
func (s *Store) ReplaceAccounts(accounts []domain.Account) {
	if len(accounts) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range accounts {
		if i := s.accountIndex(a.ID); i >= 0 {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
		} else {
			s.log.Debug().Str("account_id", a.ID).Msg("Account not found for replace, adding new")
		}
		s.accounts = append(s.accounts, a.Clone())
	}
	s.accountsChanged()
}

// UpdateAccount runs fn on a copy of the stored account and stores the
// result with replace semantics. The whole read-modify-write happens under
// the store lock. It returns domain.ErrNotFound for unknown IDs; if fn fails
// the store is left untouched.
func (s *Store) UpdateAccount(id string, fn func(*domain.Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.accountIndex(id)
	if i < 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}

	a := s.accounts[i].Clone()
	if err := fn(&a); err != nil {
		return err
	}
	// fn must not change the identity.
	a.ID = id

	s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
	s.accounts = append(s.accounts, a)
	s.accountsChanged()
	return nil
}

// RemoveAccount deletes the account and reports whether it existed.
func (s *Store) RemoveAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.accountIndex(id)
	if i < 0 {
		s.log.Warn().Str("account_id", id).Msg("Account not found, unable to delete")
		return false
	}
	s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
	s.accountsChanged()
	return true
}

// Transactions returns a snapshot of all transactions.
func (s *Store) Transactions() []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Transaction(nil), s.transactions...)
}

// TransactionsForAccount returns the transactions referencing accountID.
func (s *Store) TransactionsForAccount(accountID string) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

// Transaction returns the transaction with the given ID.
func (s *Store) Transaction(id uuid.UUID) (domain.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.transactionIndex(id); i >= 0 {
		return s.transactions[i], true
	}
	return domain.Transaction{}, false
}

// AddTransactions appends transactions, replacing any with an existing ID.
func (s *Store) AddTransactions(txns []domain.Transaction) {
	if len(txns) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txns {
		if i := s.transactionIndex(t.ID); i >= 0 {
			s.transactions[i] = t
			continue
		}
		s.transactions = append(s.transactions, t)
	}
	s.transactionsChanged()
}

// ReplaceTransactions removes any stored transaction with the same ID and
// appends the new value.
func (s *Store) ReplaceTransactions(txns []domain.Transaction) {
	if len(txns) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txns {
		if i := s.transactionIndex(t.ID); i >= 0 {
			s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
		} else {
			s.log.Debug().Str("transaction_id", t.ID.String()).Msg("Transaction not found for replace, adding new")
		}
		s.transactions = append(s.transactions, t)
	}
	s.transactionsChanged()
}

// RemoveTransaction deletes the transaction and reports whether it existed.
func (s *Store) RemoveTransaction(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.transactionIndex(id)
	if i < 0 {
		s.log.Warn().Str("transaction_id", id.String()).Msg("Transaction not found, unable to delete")
		return false
	}
	s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
	s.transactionsChanged()
	return true
}

func (s *Store) accountIndex(id string) int {
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) transactionIndex(id uuid.UUID) int {
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			return i
		}
	}
	return -1
}

// accountsChanged persists and publishes the account collection.
// Callers hold s.mu so blobs are enqueued in mutation order.
func (s *Store) accountsChanged() {
	s.persist(AccountsKey, s.accounts)
	s.publish(Event{Kind: AccountsChanged, Accounts: cloneAccounts(s.accounts)})
}

func (s *Store) transactionsChanged() {
	s.persist(TransactionsKey, s.transactions)
	s.publish(Event{Kind: TransactionsChanged, Transactions: append([]domain.Transaction(nil), s.transactions...)})
}

func (s *Store) persist(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to encode collection")
		return
	}
	if err := s.persister.Enqueue(key, data); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to enqueue collection write")
	}
}

func cloneAccounts(in []domain.Account) []domain.Account {
	out := make([]domain.Account, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

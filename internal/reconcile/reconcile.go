// Package reconcile applies upstream change batches to the entity store.
//
// Record-level problems (unknown ids, unmappable records) are logged and
// skipped; they never abort the rest of a batch. Every apply is idempotent
// for a replayed batch, which is what makes at-least-once delivery safe.
package reconcile

import (
	"fmt"
	"time"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Lifecycle is the part of the coordinator the reconciler drives.
type Lifecycle interface {
	// RetireAccount stops the observer of an account, then removes the
	// account from the store, with no observer start in between.
	RetireAccount(accountID string) bool
	// ScheduleEnsureObserving asks for observers to be started for every
	// known account once upstream has settled.
	ScheduleEnsureObserving()
}

// Result summarizes one applied batch.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int
	Skipped  int
}

// Empty reports whether the batch changed nothing.
func (r Result) Empty() bool {
	return r.Inserted == 0 && r.Updated == 0 && r.Deleted == 0
}

// Reconciler turns change batches into entity store mutations.
type Reconciler struct {
	store     *store.Store
	lifecycle Lifecycle
	log       zerolog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock sets the time source for CreatedAt and UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator sets how derived due IDs are generated.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(r *Reconciler) { r.newID = newID }
}

// New creates a reconciler. lifecycle may be nil when no observers exist,
// e.g. in offline tools.
func New(st *store.Store, lifecycle Lifecycle, log zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     st,
		lifecycle: lifecycle,
		log:       log,
		now:       time.Now,
		newID:     uuid.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApplyAccountChanges applies one account feed batch.
func (r *Reconciler) ApplyAccountChanges(b feed.Batch[feed.Account]) Result {
	var res Result

	// Inserted: create, or refresh in place when the id is already stored.
	var added []domain.Account
	for _, up := range b.Inserted {
		id := up.ID.String()
		if _, exists := r.store.Account(id); exists {
			if err := r.updateAccount(up); err != nil {
				res.Skipped++
				continue
			}
			res.Updated++
			continue
		}

		a, ok := r.newAccount(up)
		if !ok {
			r.log.Debug().
				Str("account_id", id).
				Str("classification", string(up.Classification)).
				Msg("Skipping account with unmapped classification")
			res.Skipped++
			continue
		}
		added = append(added, a)
	}
	if len(added) > 0 {
		r.store.AddAccounts(added)
		res.Inserted = len(added)
		r.log.Info().Int("count", len(added)).Msg("Found new accounts")
	}

	// Updated: only existing accounts are touched.
	for _, up := range b.Updated {
		if err := r.updateAccount(up); err != nil {
			r.log.Warn().Err(err).Str("account_id", up.ID.String()).Msg("Account to update not found, skipping")
			res.Skipped++
			continue
		}
		res.Updated++
	}

	// Deleted: stop the observer before the account disappears.
	for _, id := range b.Deleted {
		accountID := id.String()
		if _, exists := r.store.Account(accountID); !exists {
			r.log.Warn().Str("account_id", accountID).Msg("Account to delete not found, skipping")
			res.Skipped++
			continue
		}
		var removed bool
		if r.lifecycle != nil {
			removed = r.lifecycle.RetireAccount(accountID)
		} else {
			removed = r.store.RemoveAccount(accountID)
		}
		if removed {
			res.Deleted++
		}
	}

	if res.Inserted > 0 && r.lifecycle != nil {
		r.lifecycle.ScheduleEnsureObserving()
	}
	return res
}

func (r *Reconciler) updateAccount(up feed.Account) error {
	return r.store.UpdateAccount(up.ID.String(), func(a *domain.Account) error {
		r.refreshAccount(a, up)
		return nil
	})
}

// ApplyBalanceChanges applies one balance feed batch to the given account.
// It fails only when the account itself is unknown.
func (r *Reconciler) ApplyBalanceChanges(accountID string, b feed.Batch[feed.Balance]) (Result, error) {
	var res Result
	if b.Empty() {
		return res, nil
	}

	log := r.log.With().Str("account_id", accountID).Logger()
	err := r.store.UpdateAccount(accountID, func(a *domain.Account) error {
		res = Result{}
		for _, up := range b.Inserted {
			bal, ok := balance(up)
			if !ok {
				log.Debug().Str("balance_id", up.ID.String()).Msg("Skipping balance without amount")
				res.Skipped++
				continue
			}
			if i := a.BalanceIndex(bal.ID); i >= 0 {
				a.Balances[i] = bal
			} else {
				a.Balances = append(a.Balances, bal)
			}
			res.Inserted++
		}

		for _, up := range b.Updated {
			i := a.BalanceIndex(up.ID)
			if i < 0 {
				log.Warn().Str("balance_id", up.ID.String()).Msg("Balance to update not found, skipping")
				res.Skipped++
				continue
			}
			bal, ok := balance(up)
			if !ok {
				res.Skipped++
				continue
			}
			a.Balances[i] = bal
			res.Updated++
		}

		for _, id := range b.Deleted {
			i := a.BalanceIndex(id)
			if i < 0 {
				log.Debug().Str("balance_id", id.String()).Msg("Balance to delete not found, skipping")
				res.Skipped++
				continue
			}
			a.Balances = append(a.Balances[:i], a.Balances[i+1:]...)
			res.Deleted++
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply balances: %w", err)
	}

	log.Debug().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Msg("Applied balance changes")
	return res, nil
}

// ApplyTransactionChanges applies one transaction feed batch for the given
// account. Updates and deletes resolve ids against all stored transactions.
func (r *Reconciler) ApplyTransactionChanges(accountID string, b feed.Batch[feed.Transaction]) Result {
	var res Result
	log := r.log.With().Str("account_id", accountID).Logger()

	if len(b.Inserted) > 0 {
		txns := make([]domain.Transaction, 0, len(b.Inserted))
		for _, up := range b.Inserted {
			txns = append(txns, transaction(up, accountID))
		}
		r.store.AddTransactions(txns)
		res.Inserted = len(txns)
	}

	var updated []domain.Transaction
	for _, up := range b.Updated {
		if _, ok := r.store.Transaction(up.ID); !ok {
			log.Warn().Str("transaction_id", up.ID.String()).Msg("Transaction to update not found, skipping")
			res.Skipped++
			continue
		}
		updated = append(updated, transaction(up, accountID))
	}
	if len(updated) > 0 {
		r.store.ReplaceTransactions(updated)
		res.Updated = len(updated)
	}

	for _, id := range b.Deleted {
		if !r.store.RemoveTransaction(id) {
			res.Skipped++
			continue
		}
		res.Deleted++
	}

	if len(b.Deleted) > 0 {
		log.Debug().Strs("transaction_ids", idStrings(b.Deleted)).Msg("Processed deleted transactions")
	}
	log.Debug().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Msg("Applied transaction changes")
	return res
}

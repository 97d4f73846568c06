package store

import "github.com/dvloznov/walletsync/internal/domain"

// EventKind identifies which collection changed.
type EventKind string

const (
	AccountsChanged     EventKind = "accounts"
	TransactionsChanged EventKind = "transactions"
)

// Event carries a full snapshot of the collection that changed.
type Event struct {
	Kind         EventKind
	Accounts     []domain.Account
	Transactions []domain.Transaction
}

// Subscribe returns a channel of change events and a cancel func.
// Each subscriber only ever sees the latest pending event per send; a slow
// reader skips intermediate snapshots instead of blocking writers.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}

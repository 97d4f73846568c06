package memfeed

import (
	"context"
	"sync"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
)

type entry[T any] struct {
	batch feed.Batch[T]
	err   error
}

// stream is an append-only log of batches. Cursor positions count batches
// only; error entries are not addressable.
type stream[T any] struct {
	mu      sync.Mutex
	entries []entry[T]
	changed chan struct{}
}

func newStream[T any]() *stream[T] {
	return &stream[T]{changed: make(chan struct{})}
}

func (s *stream[T]) append(e entry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	close(s.changed)
	s.changed = make(chan struct{})
}

// at returns the entry at index i, or a channel to wait on if there is none yet.
func (s *stream[T]) at(i int) (entry[T], bool, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < len(s.entries) {
		return s.entries[i], true, nil
	}
	return entry[T]{}, false, s.changed
}

// indexOf maps a batch position to an index in entries. Resumed readers
// skip error entries in front of that position.
func (s *stream[T]) indexOf(pos int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := 0
	for i, e := range s.entries {
		if e.err != nil {
			continue
		}
		if seen == pos {
			return i
		}
		seen++
	}
	return len(s.entries) + (pos - seen)
}

type memFeed[T any] struct {
	p      *Provider
	s      *stream[T]
	next   int // index into entries
	pos    int // batches consumed
	closed chan struct{}
	once   sync.Once
}

func openFeed[T any](p *Provider, s *stream[T], since domain.Cursor) (feed.Feed[T], error) {
	pos, err := DecodeCursor(since)
	if err != nil {
		return nil, err
	}
	return &memFeed[T]{
		p:      p,
		s:      s,
		next:   s.indexOf(pos),
		pos:    pos,
		closed: make(chan struct{}),
	}, nil
}

func (f *memFeed[T]) Next(ctx context.Context) (feed.Batch[T], error) {
	for {
		select {
		case <-f.closed:
			return feed.Batch[T]{}, feed.ErrClosed
		default:
		}

		ok, authChanged := f.p.authorized()
		if !ok {
			return feed.Batch[T]{}, domain.ErrUnauthorized
		}

		e, found, wait := f.s.at(f.next)
		if found {
			f.next++
			if e.err != nil {
				return feed.Batch[T]{}, e.err
			}
			f.pos++
			b := e.batch
			b.NewCursor = EncodeCursor(f.pos)
			return b, nil
		}

		select {
		case <-wait:
		case <-authChanged:
		case <-f.closed:
			return feed.Batch[T]{}, feed.ErrClosed
		case <-ctx.Done():
			return feed.Batch[T]{}, ctx.Err()
		}
	}
}

func (f *memFeed[T]) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

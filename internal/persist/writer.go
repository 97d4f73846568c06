// Package persist serializes durable writes of whole-collection blobs.
package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/walletsync/internal/kv"
	"github.com/rs/zerolog"
)

// ErrClosed is returned once the writer has been stopped.
var ErrClosed = errors.New("persist: writer is closed")

// op is either a write (key set) or a flush barrier (done set).
type op struct {
	key   string
	value []byte
	done  chan error
}

// Writer is a single-goroutine write-behind queue in front of a kv.Store.
// Writes are applied strictly in enqueue order, so two full-collection
// rewrites of the same key can never interleave.
type Writer struct {
	kv     kv.Store
	log    zerolog.Logger
	ops    chan op
	quit   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	// failed holds the latest value of every key whose write has not
	// succeeded yet. Owned by the worker goroutine.
	failed map[string][]byte
}

// NewWriter starts a writer. bufferSize determines how many writes can be
// pending before Enqueue blocks.
func NewWriter(store kv.Store, bufferSize int, log zerolog.Logger) *Writer {
	w := &Writer{
		kv:   store,
		log:  log,
		ops:    make(chan op, bufferSize),
		quit:   make(chan struct{}),
		failed: make(map[string][]byte),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue schedules value to be stored under key and returns immediately
// unless the buffer is full.
func (w *Writer) Enqueue(key string, value []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}
	w.ops <- op{key: key, value: value}
	return nil
}

// Flush blocks until every write enqueued before the call has been applied.
// Failed writes are retried first; Flush returns an error for as long as any
// key is not durable, whichever caller enqueued it.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan error, 1)

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	select {
	case w.ops <- op{done: done}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop applies every pending write and stops the worker.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.quit)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case o := <-w.ops:
			w.apply(o)
		case <-w.quit:
			// No sender can be active once closed is set; drain what is left.
			for {
				select {
				case o := <-w.ops:
					w.apply(o)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) apply(o op) {
	if o.done != nil {
		o.done <- w.retryFailed()
		return
	}

	// Writes outlive the caller that enqueued them.
	if err := w.kv.Put(context.Background(), o.key, o.value); err != nil {
		w.log.Error().Err(err).Str("key", o.key).Msg("Durable write failed")
		w.failed[o.key] = o.value
		return
	}
	delete(w.failed, o.key)
}

// retryFailed writes every outstanding key again and reports those that
// still fail.
func (w *Writer) retryFailed() error {
	if len(w.failed) == 0 {
		return nil
	}

	keys := make([]string, 0, len(w.failed))
	for key := range w.failed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := w.kv.Put(context.Background(), key, w.failed[key]); err != nil {
			w.log.Error().Err(err).Str("key", key).Msg("Durable write retry failed")
			errs = append(errs, fmt.Errorf("persist %q: %w", key, err))
			continue
		}
		w.log.Info().Str("key", key).Msg("Durable write recovered")
		delete(w.failed, key)
	}
	return errors.Join(errs...)
}

package main

import (
	"context"

	"github.com/dvloznov/walletsync/internal/app"
	"github.com/dvloznov/walletsync/internal/cursor"
	"github.com/dvloznov/walletsync/internal/logger"
	"github.com/dvloznov/walletsync/internal/persist"
	"github.com/dvloznov/walletsync/internal/store"
)

// localState is the persisted state opened without starting any sync.
type localState struct {
	store   *store.Store
	cursors *cursor.Store
	close   func()
}

func openLocalState(ctx context.Context, e *env) (*localState, error) {
	backing, err := app.OpenStorage(ctx, e.cfg.Storage)
	if err != nil {
		return nil, err
	}

	writer := persist.NewWriter(backing, e.cfg.Sync.WriteBuffer, logger.Component(e.log, "persist"))
	closeAll := func() {
		if err := writer.Stop(context.Background()); err != nil {
			e.log.Error().Err(err).Msg("Failed to drain pending writes")
		}
		if err := backing.Close(); err != nil {
			e.log.Error().Err(err).Msg("Failed to close storage")
		}
	}

	st, err := store.Open(ctx, backing, writer, logger.Component(e.log, "store"))
	if err != nil {
		closeAll()
		return nil, err
	}

	return &localState{store: st, cursors: cursor.NewStore(backing), close: closeAll}, nil
}

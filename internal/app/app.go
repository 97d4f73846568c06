// Package app assembles a walletsync process from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/walletsync/internal/api"
	"github.com/dvloznov/walletsync/internal/config"
	"github.com/dvloznov/walletsync/internal/cursor"
	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/feed"
	"github.com/dvloznov/walletsync/internal/feed/memfeed"
	"github.com/dvloznov/walletsync/internal/feed/redisfeed"
	"github.com/dvloznov/walletsync/internal/kv"
	"github.com/dvloznov/walletsync/internal/kv/gcskv"
	"github.com/dvloznov/walletsync/internal/kv/pgkv"
	"github.com/dvloznov/walletsync/internal/kv/rediskv"
	"github.com/dvloznov/walletsync/internal/kv/sqlitekv"
	"github.com/dvloznov/walletsync/internal/logger"
	"github.com/dvloznov/walletsync/internal/notionsync"
	"github.com/dvloznov/walletsync/internal/persist"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/dvloznov/walletsync/internal/syncer"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// App holds every long lived component of a running process.
type App struct {
	Config      *config.Config
	Log         zerolog.Logger
	KV          kv.Store
	Writer      *persist.Writer
	Store       *store.Store
	Cursors     *cursor.Store
	Provider    feed.Provider
	Coordinator *syncer.Coordinator
	API         *api.Server          // nil when the API is disabled
	Exporter    *notionsync.Exporter // nil when the Notion export is disabled
}

// New builds the application. The returned cleanup releases everything that
// was opened and must be called even when Run was never started.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	backing, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, func() {
		if err := backing.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
	})

	writer := persist.NewWriter(backing, cfg.Sync.WriteBuffer, logger.Component(log, "persist"))
	closers = append(closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := writer.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to drain pending writes")
		}
	})

	st, err := store.Open(ctx, backing, writer, logger.Component(log, "store"))
	if err != nil {
		return nil, cleanup, err
	}
	cursors := cursor.NewStore(backing)

	provider, closeProvider, err := NewProvider(cfg.Feed, log)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeProvider)

	coordinator := syncer.New(provider, st, cursors, logger.Component(log, "syncer"), syncer.Options{
		SettleDelay: cfg.Sync.SettleDelay,
	})
	closers = append(closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := coordinator.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to stop sync coordinator")
		}
	})

	a := &App{
		Config:      cfg,
		Log:         log,
		KV:          backing,
		Writer:      writer,
		Store:       st,
		Cursors:     cursors,
		Provider:    provider,
		Coordinator: coordinator,
	}

	if cfg.API.Enabled {
		var opts []api.RouterOption
		if cfg.API.JWTSecret != "" {
			opts = append(opts, api.WithAuth(cfg.API.JWTSecret))
		}
		router := api.NewRouter(st, coordinator, logger.Component(log, "api"), opts...)
		a.API = api.NewServer(cfg.API.Addr, router, log)
	}

	if cfg.Notion.Enabled() {
		a.Exporter = notionsync.NewExporter(notionsync.NewClient(cfg.Notion.Token), st, notionsync.Options{
			AccountsDBID:     cfg.Notion.AccountsDBID,
			TransactionsDBID: cfg.Notion.TransactionsDBID,
			Debounce:         cfg.Notion.Debounce,
		}, log)
	}

	return a, cleanup, nil
}

// Run starts syncing plus the optional API and Notion export, and blocks
// until ctx is done or one of them fails. Missing authorization is not an
// error: syncing starts later through RequestAuthorization.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.Coordinator.Start(gctx)
		if errors.Is(err, domain.ErrUnauthorized) {
			a.Log.Warn().Msg("Waiting for authorization; POST /api/authorization or run `walletsync authorize`")
			return nil
		}
		return err
	})

	if a.API != nil {
		g.Go(func() error { return a.API.Run(gctx) })
	}
	if a.Exporter != nil {
		g.Go(func() error { return a.Exporter.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Coordinator.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return a.Store.Flush(shutdownCtx)
	})

	return g.Wait()
}

// OpenStorage opens the configured kv backend.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemory(), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlitekv.Open(cfg.SQLite.Path)
	case config.BackendPostgres:
		return pgkv.Open(cfg.Postgres.URL)
	case config.BackendRedis:
		return rediskv.Open(rediskv.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: keyPrefix(cfg.Redis.Namespace),
		})
	case config.BackendGCS:
		return gcskv.Open(ctx, gcskv.Options{
			URI:             cfg.GCS.URI,
			CredentialsFile: cfg.GCS.CredentialsFile,
			Endpoint:        cfg.GCS.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewProvider creates the configured change feed provider.
// The memory source starts undetermined and grants access on request.
func NewProvider(cfg config.FeedConfig, log zerolog.Logger) (feed.Provider, func(), error) {
	switch cfg.Source {
	case config.SourceMemory:
		return memfeed.New(feed.NotDetermined), func() {}, nil
	case config.SourceRedis:
		client, err := NewFeedClient(cfg)
		if err != nil {
			return nil, func() {}, err
		}
		provider := redisfeed.New(client, redisfeed.Options{
			Prefix:         cfg.StreamPrefix,
			BlockTimeout:   cfg.BlockTimeout,
			GrantOnRequest: cfg.GrantOnRequest,
		}, logger.Component(log, "redisfeed"))
		return provider, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown feed source %q", cfg.Source)
	}
}

// NewFeedClient connects to the Redis server carrying the change feeds.
func NewFeedClient(cfg config.FeedConfig) (*redis.Client, error) {
	return rediskv.NewClient(rediskv.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func keyPrefix(namespace string) string {
	if namespace == "" || strings.HasSuffix(namespace, ":") {
		return namespace
	}
	return namespace + ":"
}

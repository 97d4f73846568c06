// Package notionsync mirrors entity store snapshots into Notion databases.
package notionsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/walletsync/internal/domain"
	"github.com/dvloznov/walletsync/internal/store"
	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"
)

const (
	// DefaultDebounce collapses bursts of store changes into one export.
	DefaultDebounce = 5 * time.Second

	pageSize = 100
)

// Source is the read side of the entity store the exporter mirrors.
type Source interface {
	Accounts() []domain.Account
	Transactions() []domain.Transaction
	Subscribe() (<-chan store.Event, func())
}

// Options configures an Exporter. An empty database ID disables that half.
type Options struct {
	AccountsDBID     string
	TransactionsDBID string
	Debounce         time.Duration
	DryRun           bool
}

// Stats counts the page operations of one export.
type Stats struct {
	Created  int
	Updated  int
	Archived int
	Failed   int
}

// Exporter keeps Notion databases in step with the entity store.
type Exporter struct {
	client NotionService
	source Source
	opts   Options
	log    zerolog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(client NotionService, source Source, opts Options, log zerolog.Logger) *Exporter {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Exporter{
		client: client,
		source: source,
		opts:   opts,
		log:    log.With().Str("component", "notionsync").Logger(),
	}
}

// Run exports once, then again after every quiet period following store changes.
// It returns when ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	events, cancel := e.source.Subscribe()
	defer cancel()

	dirtyAccounts, dirtyTransactions := true, true
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case store.AccountsChanged:
				dirtyAccounts = true
				// transaction pages show account titles
				dirtyTransactions = true
			case store.TransactionsChanged:
				dirtyTransactions = true
			}
			resetTimer(timer, e.opts.Debounce)
		case <-timer.C:
			if dirtyAccounts {
				if _, err := e.SyncAccounts(ctx, e.source.Accounts()); err != nil && ctx.Err() == nil {
					e.log.Error().Err(err).Msg("Failed to export accounts")
				}
				dirtyAccounts = false
			}
			if dirtyTransactions {
				if _, err := e.SyncTransactions(ctx, e.source.Transactions(), e.source.Accounts()); err != nil && ctx.Err() == nil {
					e.log.Error().Err(err).Msg("Failed to export transactions")
				}
				dirtyTransactions = false
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// SyncAccounts upserts one page per account keyed by account ID and archives
// pages whose account no longer exists.
func (e *Exporter) SyncAccounts(ctx context.Context, accounts []domain.Account) (Stats, error) {
	if e.opts.AccountsDBID == "" {
		return Stats{}, nil
	}

	records := make([]record, 0, len(accounts))
	for _, acc := range accounts {
		records = append(records, record{key: acc.ID, props: AccountToNotionProperties(acc)})
	}

	stats, err := e.mirror(ctx, e.opts.AccountsDBID, PropAccountID, records)
	if err != nil {
		return stats, fmt.Errorf("sync accounts: %w", err)
	}

	e.log.Info().
		Int("accounts", len(accounts)).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("archived", stats.Archived).
		Int("failed", stats.Failed).
		Bool("dry_run", e.opts.DryRun).
		Msg("Accounts exported to Notion")
	return stats, nil
}

// SyncTransactions upserts one page per transaction keyed by transaction ID
// and archives pages whose transaction no longer exists.
func (e *Exporter) SyncTransactions(ctx context.Context, txns []domain.Transaction, accounts []domain.Account) (Stats, error) {
	if e.opts.TransactionsDBID == "" {
		return Stats{}, nil
	}

	titles := make(map[string]string, len(accounts))
	for _, acc := range accounts {
		titles[acc.ID] = acc.Title
	}

	records := make([]record, 0, len(txns))
	for _, tx := range txns {
		records = append(records, record{key: tx.ID.String(), props: TransactionToNotionProperties(tx, titles)})
	}

	stats, err := e.mirror(ctx, e.opts.TransactionsDBID, PropTransactionID, records)
	if err != nil {
		return stats, fmt.Errorf("sync transactions: %w", err)
	}

	e.log.Info().
		Int("transactions", len(txns)).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("archived", stats.Archived).
		Int("failed", stats.Failed).
		Bool("dry_run", e.opts.DryRun).
		Msg("Transactions exported to Notion")
	return stats, nil
}

type record struct {
	key   string
	props notionapi.Properties
}

// mirror makes the database hold exactly one page per record.
// Single page failures are logged and counted; only the listing is fatal.
func (e *Exporter) mirror(ctx context.Context, databaseID, keyProp string, records []record) (Stats, error) {
	var stats Stats

	pages, err := queryAllPages(ctx, e.client, databaseID)
	if err != nil {
		return stats, err
	}

	wanted := make(map[string]bool, len(records))
	for _, r := range records {
		wanted[r.key] = true
	}

	existing := make(map[string]string, len(pages))
	for _, page := range pages {
		key := pageKey(page, keyProp)
		_, dup := existing[key]
		if key == "" || !wanted[key] || dup {
			if e.archive(ctx, key, string(page.ID)) {
				stats.Archived++
			} else {
				stats.Failed++
			}
			continue
		}
		existing[key] = string(page.ID)
	}

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		pageID, ok := existing[r.key]
		switch {
		case e.opts.DryRun && ok:
			e.log.Debug().Str("key", r.key).Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
			stats.Updated++
		case e.opts.DryRun:
			e.log.Debug().Str("key", r.key).Msg("[DRY RUN] Would create Notion page")
			stats.Created++
		case ok:
			if _, err := e.client.UpdatePage(ctx, pageID, r.props); err != nil {
				e.log.Warn().Err(err).Str("key", r.key).Str("page_id", pageID).Msg("Failed to update Notion page")
				stats.Failed++
				continue
			}
			stats.Updated++
		default:
			if _, err := e.client.CreatePage(ctx, databaseID, r.props); err != nil {
				e.log.Warn().Err(err).Str("key", r.key).Msg("Failed to create Notion page")
				stats.Failed++
				continue
			}
			stats.Created++
		}
	}

	return stats, nil
}

func (e *Exporter) archive(ctx context.Context, key, pageID string) bool {
	if e.opts.DryRun {
		e.log.Debug().Str("key", key).Str("page_id", pageID).Msg("[DRY RUN] Would archive stale Notion page")
		return true
	}
	if err := e.client.ArchivePage(ctx, pageID); err != nil {
		e.log.Warn().Err(err).Str("key", key).Str("page_id", pageID).Msg("Failed to archive stale Notion page")
		return false
	}
	return true
}

// queryAllPages returns every page of a database, following pagination.
func queryAllPages(ctx context.Context, client NotionService, databaseID string) ([]notionapi.Page, error) {
	var (
		pages  []notionapi.Page
		cursor notionapi.Cursor
	)

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := client.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, errors.New("empty query response")
		}

		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}

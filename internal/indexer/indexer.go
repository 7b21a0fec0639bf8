package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/user/markhub/internal/db"
	"github.com/user/markhub/internal/integrations"
)

const lastImportKeyPrefix = "last_import_at:"

// ErrNotIndexed is returned when a URL has no stored bookmark.
var ErrNotIndexed = errors.New("URL not indexed")

// Notifier receives bookmark.created events for newly stored bookmarks and
// bookmark.deleted events for removed ones.
type Notifier interface {
	IsEnabled() bool
	TriggerBookmarkCreated(ctx context.Context, b integrations.BookmarkData) *integrations.DispatchResult
	TriggerBookmarkDeleted(ctx context.Context, b integrations.BookmarkData) *integrations.DispatchResult
}

// Options configures ingest output
type Options struct {
	Silent bool // Suppress progress output (server, TUI)
}

// Stats is the outcome of storing one import.
type Stats struct {
	Source     string `json:"source"`
	New        int    `json:"new"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	Notified   int    `json:"notified"`
}

// Indexer stores imported bookmarks and announces new ones.
type Indexer struct {
	store    *db.Store
	notifier Notifier
	logger   arbor.ILogger
	opts     Options
}

// New creates an indexer. notifier may be nil.
func New(store *db.Store, notifier Notifier, logger arbor.ILogger, opts Options) *Indexer {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &Indexer{store: store, notifier: notifier, logger: logger, opts: opts}
}

// Ingest upserts every bookmark of an import and records the number of
// already known URLs in res.Duplicates.
func (ix *Indexer) Ingest(ctx context.Context, source string, res *integrations.ImportResult) (*Stats, error) {
	stats := &Stats{Source: source}
	if res == nil {
		return stats, nil
	}

	for i, d := range res.Data {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		printProgress(i+1, len(res.Data), "Storing "+source, ix.opts.Silent)

		b := db.FromBookmarkData(d)
		if b.Source == "" {
			b.Source = source
		}
		isNew, err := ix.store.UpsertReturningNew(b)
		if err != nil {
			stats.Failed++
			ix.logger.Warn().Err(err).Str("url", d.URL).Msg("Failed to store bookmark")
			continue
		}
		if !isNew {
			stats.Duplicates++
			continue
		}
		stats.New++
		if ix.notify(ctx, d) {
			stats.Notified++
		}
	}
	if !ix.opts.Silent && len(res.Data) > 0 {
		fmt.Println()
	}

	res.Duplicates = stats.Duplicates
	if err := ix.store.SetMetadata(lastImportKeyPrefix+source, time.Now().Format(time.RFC3339)); err != nil {
		ix.logger.Warn().Err(err).Str("source", source).Msg("Failed to record import time")
	}

	ix.logger.Info().
		Str("source", source).
		Int("new", stats.New).
		Int("duplicates", stats.Duplicates).
		Int("failed", stats.Failed).
		Msg("Stored imported bookmarks")
	return stats, nil
}

// IngestAll stores the results of a fan-out import. Failed imports are
// skipped.
func (ix *Indexer) IngestAll(ctx context.Context, results map[string]*integrations.ImportResult) (map[string]*Stats, error) {
	out := make(map[string]*Stats, len(results))
	for source, res := range results {
		if res == nil || !res.Success {
			continue
		}
		stats, err := ix.Ingest(ctx, source, res)
		if err != nil {
			return out, err
		}
		out[source] = stats
	}
	return out, nil
}

func (ix *Indexer) notify(ctx context.Context, d integrations.BookmarkData) bool {
	if ix.notifier == nil || !ix.notifier.IsEnabled() {
		return false
	}
	r := ix.notifier.TriggerBookmarkCreated(ctx, d)
	return r != nil && r.Delivered > 0
}

// AddManualURL stores a URL added by hand and announces it like an import.
func (ix *Indexer) AddManualURL(ctx context.Context, url, title string, tags []string, category string) (*db.Bookmark, error) {
	url = strings.TrimSpace(url)
	if existing, _ := ix.store.GetByURL(url); existing != nil {
		return nil, fmt.Errorf("URL already indexed")
	}

	d := integrations.BookmarkData{
		URL:      url,
		Title:    title,
		Tags:     tags,
		Category: category,
		Source:   "manual",
	}
	if d.Title == "" {
		d.Title = url
	}
	now := time.Now()
	d.CreatedAt = &now

	res := &integrations.ImportResult{Success: true, Imported: 1, Errors: []string{}, Data: []integrations.BookmarkData{d}}
	stats, err := ix.Ingest(ctx, "manual", res)
	if err != nil {
		return nil, err
	}
	if stats.Failed > 0 {
		return nil, fmt.Errorf("failed to store %s", url)
	}
	return ix.store.GetByURL(url)
}

// Delete removes the bookmark stored for url and announces it as
// bookmark.deleted. The removed bookmark is returned.
func (ix *Indexer) Delete(ctx context.Context, url string) (*db.Bookmark, error) {
	url = strings.TrimSpace(url)
	b, err := ix.store.GetByURL(url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, url)
	}
	if err != nil {
		return nil, err
	}
	if err := ix.store.Delete(b.ID); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", url, err)
	}
	ix.logger.Info().Str("url", url).Str("source", b.Source).Msg("Bookmark deleted")

	if ix.notifier != nil && ix.notifier.IsEnabled() {
		ix.notifier.TriggerBookmarkDeleted(ctx, b.BookmarkData())
	}
	return b, nil
}

// LastImport returns when source was last ingested, zero if never.
func (ix *Indexer) LastImport(source string) time.Time {
	v, err := ix.store.GetMetadata(lastImportKeyPrefix + source)
	if err != nil || v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func printProgress(current, total int, prefix string, silent bool) {
	if silent || total == 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	barWidth := 30
	filled := int(float64(barWidth) * float64(current) / float64(total))

	bar := ""
	for i := 0; i < barWidth; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}

	fmt.Printf("\r%s [%s] %d/%d (%.0f%%)", prefix, bar, current, total, pct)
}

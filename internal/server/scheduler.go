package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/user/markhub/internal/db"
	"github.com/user/markhub/internal/indexer"
	"github.com/user/markhub/internal/integrations"
)

const lastAutoSyncKey = "last_auto_sync_at"

// Scheduler runs Manager.AutoSync on a cron schedule and stores what each
// sync pulled.
type Scheduler struct {
	manager  *integrations.Manager
	indexer  *indexer.Indexer
	store    *db.Store
	logger   arbor.ILogger
	schedule string

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewScheduler(manager *integrations.Manager, ix *indexer.Indexer, store *db.Store, logger arbor.ILogger, schedule string) *Scheduler {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &Scheduler{
		manager:  manager,
		indexer:  ix,
		store:    store,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the auto-sync job and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if _, err := s.cron.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid auto sync schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("Auto sync scheduler started")
	return nil
}

// Stop cancels in-flight syncs and waits for the running job to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Auto sync scheduler stopped")
}

// tick skips a run while the previous one is still going.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("Auto sync still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.RunOnce(ctx)
}

// RunOnce syncs every due integration and stores the pulled bookmarks.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]*indexer.Stats {
	results := s.manager.AutoSync(ctx)
	stored := storeSyncResults(ctx, s.indexer, s.logger, results)
	if s.store != nil {
		if err := s.store.SetMetadata(lastAutoSyncKey, time.Now().Format(time.RFC3339)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record auto sync time")
		}
	}
	return stored
}

// LastRun returns when the scheduler last ran, zero if never.
func (s *Scheduler) LastRun() time.Time {
	if s.store == nil {
		return time.Time{}
	}
	v, err := s.store.GetMetadata(lastAutoSyncKey)
	if err != nil || v == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, v)
	return t
}

func storeSyncResults(ctx context.Context, ix *indexer.Indexer, logger arbor.ILogger, results map[string]*integrations.SyncResult) map[string]*indexer.Stats {
	stored := make(map[string]*indexer.Stats, len(results))
	for id, res := range results {
		if res == nil || !res.Success {
			continue
		}
		stats, err := ix.Ingest(ctx, id, &integrations.ImportResult{
			Success:  true,
			Imported: res.Imported,
			Errors:   res.Errors,
			Data:     res.Data,
		})
		if err != nil {
			logger.Warn().Err(err).Str("integration", id).Msg("Failed to store synced bookmarks")
			continue
		}
		stored[id] = stats
	}
	return stored
}

package integrations

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ternarybob/arbor"
)

// ConfigStore persists integration configs. The manager saves a config after
// every operation that changes it.
type ConfigStore interface {
	SaveIntegration(cfg IntegrationConfig) error
}

type scrubber interface {
	Scrub()
}

// Manager is the registry of integrations and applies the enabled, configured
// and reauth policy before delegating to an adapter.
type Manager struct {
	mu           sync.RWMutex
	integrations map[string]Integration
	store        ConfigStore
	logger       arbor.ILogger
}

// NewManager creates an empty manager. store may be nil.
func NewManager(logger arbor.ILogger, store ConfigStore) *Manager {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &Manager{
		integrations: make(map[string]Integration),
		store:        store,
		logger:       logger,
	}
}

// Register adds an integration. Registering an id twice replaces the
// previous integration.
func (m *Manager) Register(i Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.integrations[i.ID()]; exists {
		m.logger.Debug().Str("integration", i.ID()).Msg("Replacing registered integration")
	}
	m.integrations[i.ID()] = i
}

func (m *Manager) Get(id string) (Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.integrations[id]
	if !ok {
		return nil, policyError(ErrNotFound, id)
	}
	return i, nil
}

// IDs returns the registered ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.integrations))
	for id := range m.integrations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) all() []Integration {
	ids := m.IDs()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Integration, 0, len(ids))
	for _, id := range ids {
		if i, ok := m.integrations[id]; ok {
			out = append(out, i)
		}
	}
	return out
}

// Restore loads a persisted config into the registered integration with the
// same id. Unknown ids are ignored.
func (m *Manager) Restore(cfg IntegrationConfig) {
	i, err := m.Get(cfg.ID)
	if err != nil {
		m.logger.Debug().Str("integration", cfg.ID).Msg("Skipping persisted config for unregistered integration")
		return
	}
	settings := cfg.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	i.UpdateConfig(ConfigUpdate{
		Enabled:      boolPtr(cfg.Enabled),
		APIKey:       strPtr(cfg.APIKey),
		AccessToken:  strPtr(cfg.AccessToken),
		RefreshToken: strPtr(cfg.RefreshToken),
		ExpiresAt:    int64Ptr(cfg.ExpiresAt),
		Settings:     settings,
		LastSync:     int64Ptr(cfg.LastSync),
		SyncInterval: int64Ptr(cfg.SyncInterval),
	})
}

// Persist saves the integration's current config. Callers that mutate an
// adapter directly (webhooks, uploads) call it afterwards.
func (m *Manager) Persist(id string) {
	if m.store == nil {
		return
	}
	i, err := m.Get(id)
	if err != nil {
		return
	}
	if err := m.store.SaveIntegration(i.Config()); err != nil {
		m.logger.Error().Err(err).Str("integration", id).Msg("Failed to persist integration config")
	}
}

// ImportFromIntegration checks exists, enabled, configured and reauth in
// that order, then imports. lastSync is updated even after a partial import.
func (m *Manager) ImportFromIntegration(ctx context.Context, id string) (*ImportResult, error) {
	i, err := m.Get(id)
	if err != nil {
		m.logger.Warn().Str("integration", id).Msg("Import requested for unknown integration")
		return nil, err
	}
	if !i.IsEnabled() {
		m.logger.Warn().Str("integration", id).Msg("Import rejected: integration disabled")
		return nil, policyError(ErrDisabled, id)
	}
	if !i.IsConfigured() {
		m.logger.Warn().Str("integration", id).Msg("Import rejected: integration not configured")
		return nil, policyError(ErrUnconfigured, id)
	}
	if i.NeedsReauth() {
		m.logger.Warn().Str("integration", id).Msg("Import rejected: re-authentication required")
		return nil, policyError(ErrReauthRequired, id)
	}

	m.logger.Info().Str("integration", id).Msg("Starting import")
	result, err := i.Import(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("integration", id).Msg("Import failed")
		return nil, fmt.Errorf("import from %s: %w", id, err)
	}

	i.UpdateLastSync()
	m.Persist(id)
	m.logger.Info().
		Str("integration", id).
		Int("imported", result.Imported).
		Int("failed", result.Failed).
		Bool("success", result.Success).
		Msg("Import finished")
	return result, nil
}

// ExportToIntegration checks exists, export capability, enabled and
// configured. Export does not touch lastSync.
func (m *Manager) ExportToIntegration(ctx context.Context, id string, bookmarks []BookmarkData) (*ExportResult, error) {
	i, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	exporter, ok := i.(Exporter)
	if !ok {
		m.logger.Warn().Str("integration", id).Msg("Export rejected: not supported")
		return nil, policyError(ErrUnsupportedOperation, id+" export")
	}
	if !i.IsEnabled() {
		m.logger.Warn().Str("integration", id).Msg("Export rejected: integration disabled")
		return nil, policyError(ErrDisabled, id)
	}
	if !i.IsConfigured() {
		m.logger.Warn().Str("integration", id).Msg("Export rejected: integration not configured")
		return nil, policyError(ErrUnconfigured, id)
	}

	m.logger.Info().Str("integration", id).Int("bookmarks", len(bookmarks)).Msg("Starting export")
	result, err := exporter.Export(ctx, bookmarks)
	if err != nil {
		m.logger.Error().Err(err).Str("integration", id).Msg("Export failed")
		return nil, fmt.Errorf("export to %s: %w", id, err)
	}
	m.Persist(id)
	m.logger.Info().
		Str("integration", id).
		Int("exported", result.Exported).
		Int("failed", result.Failed).
		Msg("Export finished")
	return result, nil
}

// SyncWithIntegration checks exists, sync capability, enabled and
// configured. Reauth is not gated here; an expired credential only logs a
// warning and the provider call decides.
func (m *Manager) SyncWithIntegration(ctx context.Context, id string) (*SyncResult, error) {
	i, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	syncer, ok := i.(Syncer)
	if !ok {
		m.logger.Warn().Str("integration", id).Msg("Sync rejected: not supported")
		return nil, policyError(ErrUnsupportedOperation, id+" sync")
	}
	if !i.IsEnabled() {
		m.logger.Warn().Str("integration", id).Msg("Sync rejected: integration disabled")
		return nil, policyError(ErrDisabled, id)
	}
	if !i.IsConfigured() {
		m.logger.Warn().Str("integration", id).Msg("Sync rejected: integration not configured")
		return nil, policyError(ErrUnconfigured, id)
	}
	if i.NeedsReauth() {
		m.logger.Warn().Str("integration", id).Msg("Syncing with an expired credential")
	}

	m.logger.Info().Str("integration", id).Msg("Starting sync")
	result, err := syncer.Sync(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("integration", id).Msg("Sync failed")
		return nil, fmt.Errorf("sync with %s: %w", id, err)
	}
	i.UpdateLastSync()
	m.Persist(id)
	m.logger.Info().Str("integration", id).Int("imported", result.Imported).Msg("Sync finished")
	return result, nil
}

// ImportFromAll imports concurrently from every enabled, configured
// integration that does not need reauth. A failing or panicking import only
// affects its own entry.
func (m *Manager) ImportFromAll(ctx context.Context) map[string]*ImportResult {
	var ids []string
	for _, i := range m.all() {
		if i.IsEnabled() && i.IsConfigured() && !i.NeedsReauth() {
			ids = append(ids, i.ID())
		}
	}

	results := fanOut(ids, func(id string) (*ImportResult, error) {
		return m.ImportFromIntegration(ctx, id)
	}, FailedImport)
	m.logger.Info().Int("integrations", len(ids)).Msg("Import from all finished")
	return results
}

// AutoSync syncs every eligible integration that is due and supports sync.
func (m *Manager) AutoSync(ctx context.Context) map[string]*SyncResult {
	var ids []string
	for _, i := range m.all() {
		if _, ok := i.(Syncer); !ok {
			continue
		}
		if i.IsEnabled() && i.IsConfigured() && !i.NeedsReauth() && i.ShouldAutoSync() {
			ids = append(ids, i.ID())
		}
	}

	results := fanOut(ids, func(id string) (*SyncResult, error) {
		return m.SyncWithIntegration(ctx, id)
	}, FailedSync)
	if len(ids) > 0 {
		m.logger.Info().Strs("integrations", ids).Msg("Auto sync finished")
	}
	return results
}

// fanOut runs fn for every id concurrently and waits for all of them. Errors
// and panics are turned into per-id results by failed.
func fanOut[R any](ids []string, fn func(id string) (*R, error), failed func(error) *R) map[string]*R {
	results := make(map[string]*R, len(ids))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			var res *R
			defer func() {
				if r := recover(); r != nil {
					res = failed(fmt.Errorf("%s panicked: %v", id, r))
				}
				mu.Lock()
				results[id] = res
				mu.Unlock()
			}()
			out, err := fn(id)
			if err != nil {
				res = failed(err)
				return
			}
			res = out
		}(id)
	}
	wg.Wait()
	return results
}

func statusOf(i Integration) Status {
	return Status{
		ID:             i.ID(),
		Configured:     i.IsConfigured(),
		Enabled:        i.IsEnabled(),
		NeedsReauth:    i.NeedsReauth(),
		LastSync:       i.LastSync(),
		ShouldAutoSync: i.ShouldAutoSync(),
	}
}

func (m *Manager) IntegrationStatus(id string) (Status, error) {
	i, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}
	return statusOf(i), nil
}

// AllIntegrationStatuses returns one status per registered id, sorted by id,
// including name and type.
func (m *Manager) AllIntegrationStatuses() []Status {
	integrations := m.all()
	out := make([]Status, 0, len(integrations))
	for _, i := range integrations {
		s := statusOf(i)
		s.Name = i.Name()
		s.Type = i.Type()
		out = append(out, s)
	}
	return out
}

func (m *Manager) SetIntegrationEnabled(id string, enabled bool) error {
	i, err := m.Get(id)
	if err != nil {
		return err
	}
	i.UpdateConfig(ConfigUpdate{Enabled: boolPtr(enabled)})
	m.Persist(id)
	m.logger.Info().Str("integration", id).Bool("enabled", enabled).Msg("Integration toggled")
	return nil
}

// UpdateIntegrationConfig merges update into the current config.
func (m *Manager) UpdateIntegrationConfig(id string, update ConfigUpdate) error {
	i, err := m.Get(id)
	if err != nil {
		return err
	}
	i.UpdateConfig(update)
	m.Persist(id)
	return nil
}

// DisableIntegration disables the integration and scrubs its secrets and
// settings.
func (m *Manager) DisableIntegration(id string) error {
	i, err := m.Get(id)
	if err != nil {
		return err
	}
	if s, ok := i.(scrubber); ok {
		s.Scrub()
	} else {
		i.UpdateConfig(ConfigUpdate{
			Enabled:      boolPtr(false),
			APIKey:       strPtr(""),
			AccessToken:  strPtr(""),
			RefreshToken: strPtr(""),
			ExpiresAt:    int64Ptr(0),
		})
	}
	m.Persist(id)
	m.logger.Info().Str("integration", id).Msg("Integration disabled and credentials cleared")
	return nil
}

// AuthenticateIntegration passes credentials to the adapter. Adapter errors
// are returned as is.
func (m *Manager) AuthenticateIntegration(ctx context.Context, id string, creds Credentials) (bool, error) {
	i, err := m.Get(id)
	if err != nil {
		return false, err
	}
	ok, err := i.Authenticate(ctx, creds)
	if err != nil {
		return false, err
	}
	if ok {
		m.Persist(id)
	}
	m.logger.Info().Str("integration", id).Bool("authenticated", ok).Msg("Authentication attempted")
	return ok, nil
}

// RegisterDefaults registers the five built-in integrations with shared
// options.
func (m *Manager) RegisterDefaults(opts ...Option) {
	m.Register(NewTwitterIntegration(opts...))
	m.Register(NewRedditIntegration(opts...))
	m.Register(NewNotionIntegration(opts...))
	m.Register(NewChromeIntegration(opts...))
	m.Register(NewZapierIntegration(opts...))
}

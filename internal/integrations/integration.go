package integrations

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"
)

// Integration is the contract every provider adapter implements.
type Integration interface {
	ID() string
	Name() string
	Type() IntegrationType
	Config() IntegrationConfig
	UpdateConfig(update ConfigUpdate)
	IsEnabled() bool
	IsConfigured() bool
	NeedsReauth() bool
	LastSync() int64
	UpdateLastSync()
	ShouldAutoSync() bool
	// Authenticate validates and stores credentials. A false result with a
	// nil error means the provider rejected them.
	Authenticate(ctx context.Context, creds Credentials) (bool, error)
	Import(ctx context.Context) (*ImportResult, error)
}

// Exporter is implemented by integrations that can push bookmarks out.
type Exporter interface {
	Export(ctx context.Context, bookmarks []BookmarkData) (*ExportResult, error)
}

// Syncer is implemented by integrations that support sync.
type Syncer interface {
	Sync(ctx context.Context) (*SyncResult, error)
}

// Base holds the config shared by every adapter and the bookkeeping around
// it. Adapters embed it.
type Base struct {
	mu     sync.RWMutex
	config IntegrationConfig
}

// Init sets the identity of a fresh, disabled integration.
func (b *Base) Init(id, name string, typ IntegrationType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = IntegrationConfig{
		ID:       id,
		Name:     name,
		Type:     typ,
		Enabled:  false,
		Settings: map[string]any{},
	}
}

func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.ID
}

func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.Name
}

func (b *Base) Type() IntegrationType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.Type
}

// Config returns a copy of the config; the settings map is cloned.
func (b *Base) Config() IntegrationConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := b.config
	c.Settings = maps.Clone(b.config.Settings)
	if c.Settings == nil {
		c.Settings = map[string]any{}
	}
	return c
}

func (b *Base) UpdateConfig(u ConfigUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	applyUpdate(&b.config, u)
}

func applyUpdate(c *IntegrationConfig, u ConfigUpdate) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Enabled != nil {
		c.Enabled = *u.Enabled
	}
	if u.APIKey != nil {
		c.APIKey = *u.APIKey
	}
	if u.AccessToken != nil {
		c.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		c.RefreshToken = *u.RefreshToken
	}
	if u.ExpiresAt != nil {
		c.ExpiresAt = *u.ExpiresAt
	}
	if u.LastSync != nil {
		c.LastSync = *u.LastSync
	}
	if u.SyncInterval != nil {
		c.SyncInterval = *u.SyncInterval
	}
	if u.Settings != nil {
		if c.Settings == nil {
			c.Settings = map[string]any{}
		}
		maps.Copy(c.Settings, u.Settings)
	}
}

// Scrub disables the integration and drops every secret and setting.
func (b *Base) Scrub() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.Enabled = false
	b.config.AccessToken = ""
	b.config.RefreshToken = ""
	b.config.APIKey = ""
	b.config.ExpiresAt = 0
	b.config.Settings = map[string]any{}
}

func (b *Base) IsEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.Enabled
}

// NeedsReauth is true once a stored expiry has passed.
func (b *Base) NeedsReauth() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.ExpiresAt > 0 && time.Now().UnixMilli() >= b.config.ExpiresAt
}

func (b *Base) LastSync() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.LastSync
}

func (b *Base) UpdateLastSync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.LastSync = time.Now().UnixMilli()
}

// ShouldAutoSync is true when both an interval and a previous sync are
// recorded and the interval has elapsed.
func (b *Base) ShouldAutoSync() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.config.SyncInterval <= 0 || b.config.LastSync <= 0 {
		return false
	}
	return time.Now().UnixMilli()-b.config.LastSync >= b.config.SyncInterval
}

func (b *Base) setting(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.config.Settings[key]
	return v, ok
}

// settingString returns a string setting or "" when absent or not a string.
func (b *Base) settingString(key string) string {
	v, ok := b.setting(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// decodeSetting re-decodes a setting into out. Settings may hold typed Go
// values or the generic maps produced by a JSON round trip.
func (b *Base) decodeSetting(key string, out any) (bool, error) {
	v, ok := b.setting(key)
	if !ok || v == nil {
		return false, nil
	}
	if s, isString := v.(string); isString {
		return true, json.Unmarshal([]byte(s), out)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return true, err
	}
	return true, json.Unmarshal(raw, out)
}

func (b *Base) setSettings(settings map[string]any) {
	b.UpdateConfig(ConfigUpdate{Settings: settings})
}

func (b *Base) accessToken() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.AccessToken
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func boolPtr(v bool) *bool { return &v }

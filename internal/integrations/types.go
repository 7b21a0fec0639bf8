package integrations

import (
	"strings"
	"time"
)

// IntegrationType classifies what an integration is used for.
type IntegrationType string

const (
	TypeImport IntegrationType = "import"
	TypeExport IntegrationType = "export"
	TypeSync   IntegrationType = "sync"
	TypeSocial IntegrationType = "social"
)

// IntegrationConfig is the identity and mutable state of one adapter.
// Timestamps and intervals are epoch milliseconds, zero meaning unset.
type IntegrationConfig struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         IntegrationType `json:"type"`
	Enabled      bool            `json:"enabled"`
	APIKey       string          `json:"apiKey,omitempty"`
	AccessToken  string          `json:"accessToken,omitempty"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	ExpiresAt    int64           `json:"expiresAt,omitempty"`
	Settings     map[string]any  `json:"settings"`
	LastSync     int64           `json:"lastSync,omitempty"`
	SyncInterval int64           `json:"syncInterval,omitempty"`
}

// ConfigUpdate is a partial update applied with merge semantics: nil fields
// are left alone and Settings keys are merged into the existing settings.
type ConfigUpdate struct {
	Name         *string        `json:"name,omitempty"`
	Enabled      *bool          `json:"enabled,omitempty"`
	APIKey       *string        `json:"apiKey,omitempty"`
	AccessToken  *string        `json:"accessToken,omitempty"`
	RefreshToken *string        `json:"refreshToken,omitempty"`
	ExpiresAt    *int64         `json:"expiresAt,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`
	LastSync     *int64         `json:"lastSync,omitempty"`
	SyncInterval *int64         `json:"syncInterval,omitempty"`
}

// Credentials are the provider specific values passed to Authenticate.
type Credentials map[string]string

// BookmarkData is the normalized bookmark every adapter produces or consumes.
type BookmarkData struct {
	URL         string         `json:"url" validate:"required"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags"`
	Category    string         `json:"category,omitempty"`
	CreatedAt   *time.Time     `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time     `json:"updatedAt,omitempty"`
	Source      string         `json:"source"`
	SourceID    string         `json:"sourceId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ImportResult struct {
	Success    bool           `json:"success"`
	Imported   int            `json:"imported"`
	Failed     int            `json:"failed"`
	Duplicates int            `json:"duplicates"`
	Errors     []string       `json:"errors"`
	Data       []BookmarkData `json:"data,omitempty"`
}

// Finalize sets Success: partial success counts as success, and only an
// import that produced nothing while reporting errors is a failure.
func (r *ImportResult) Finalize() *ImportResult {
	r.Success = r.Imported > 0 || len(r.Errors) == 0
	return r
}

// FailedImport builds the result used when an import could not run at all.
func FailedImport(err error) *ImportResult {
	return &ImportResult{Success: false, Errors: []string{err.Error()}}
}

type ExportResult struct {
	Success  bool     `json:"success"`
	Exported int      `json:"exported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

func (r *ExportResult) Finalize() *ExportResult {
	r.Success = r.Exported > 0 || len(r.Errors) == 0
	return r
}

// SyncResult summarizes a combined pull and push. Only the pull half is
// implemented today, so Exported, Updated and Deleted stay zero. Data holds
// the pulled bookmarks for the caller to store.
type SyncResult struct {
	Success  bool           `json:"success"`
	Imported int            `json:"imported"`
	Exported int            `json:"exported"`
	Updated  int            `json:"updated"`
	Deleted  int            `json:"deleted"`
	Errors   []string       `json:"errors"`
	Data     []BookmarkData `json:"-"`
}

// FailedSync builds the result recorded for a sync unit that errored.
func FailedSync(err error) *SyncResult {
	return &SyncResult{Success: false, Errors: []string{err.Error()}}
}

// syncFromImport maps an import onto the sync summary.
func syncFromImport(r *ImportResult) *SyncResult {
	return &SyncResult{
		Success:  r.Success,
		Imported: r.Imported,
		Errors:   r.Errors,
		Data:     r.Data,
	}
}

// Status is the read-only view returned by status queries.
type Status struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	Type           IntegrationType `json:"type,omitempty"`
	Configured     bool            `json:"configured"`
	Enabled        bool            `json:"enabled"`
	NeedsReauth    bool            `json:"needsReauth"`
	LastSync       int64           `json:"lastSync,omitempty"`
	ShouldAutoSync bool            `json:"shouldAutoSync"`
}

// WebhookEvent names a bookmark lifecycle event delivered to Zapier.
type WebhookEvent string

const (
	EventBookmarkCreated     WebhookEvent = "bookmark.created"
	EventBookmarkUpdated     WebhookEvent = "bookmark.updated"
	EventBookmarkDeleted     WebhookEvent = "bookmark.deleted"
	EventBookmarkTagged      WebhookEvent = "bookmark.tagged"
	EventBookmarkCategorized WebhookEvent = "bookmark.categorized"
)

// WebhookEvents lists every event a webhook may subscribe to.
var WebhookEvents = []WebhookEvent{
	EventBookmarkCreated,
	EventBookmarkUpdated,
	EventBookmarkDeleted,
	EventBookmarkTagged,
	EventBookmarkCategorized,
}

// WebhookFilters narrow which bookmarks a webhook receives. Empty lists
// match everything.
type WebhookFilters struct {
	Categories []string `json:"categories,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Domains    []string `json:"domains,omitempty"`
}

type ZapierWebhook struct {
	ID      string          `json:"id"`
	URL     string          `json:"url" validate:"required,url"`
	Event   WebhookEvent    `json:"event" validate:"required,oneof=bookmark.created bookmark.updated bookmark.deleted bookmark.tagged bookmark.categorized"`
	Enabled bool            `json:"enabled"`
	Filters *WebhookFilters `json:"filters,omitempty"`
}

// truncate cuts s to max runes, appending an ellipsis when it was shortened.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// clip cuts s to max runes without any marker.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

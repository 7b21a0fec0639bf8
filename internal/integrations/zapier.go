package integrations

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

const (
	ZapierID = "zapier"

	zapierUserAgent = "markhub-zapier/1.0"
)

// ZapierIntegration delivers bookmark events to Zapier catch hooks. Delivery
// is fire and forget: failed posts are logged and not retried.
type ZapierIntegration struct {
	Base
	client *providerClient
	logger arbor.ILogger

	hooksMu  sync.RWMutex
	webhooks []ZapierWebhook
}

func NewZapierIntegration(opts ...Option) *ZapierIntegration {
	o := buildOptions("", opts)
	z := &ZapierIntegration{
		client: newProviderClient(ZapierID, o),
		logger: o.logger,
	}
	z.Init(ZapierID, "Zapier", TypeExport)
	z.hydrate()
	return z
}

// hydrate reloads the webhook list from settings.webhooks.
func (z *ZapierIntegration) hydrate() {
	var hooks []ZapierWebhook
	if _, err := z.decodeSetting("webhooks", &hooks); err != nil {
		z.logger.Warn().Err(err).Msg("Ignoring malformed settings.webhooks")
		hooks = nil
	}
	z.hooksMu.Lock()
	z.webhooks = hooks
	z.hooksMu.Unlock()
}

// UpdateConfig merges the update and rehydrates webhooks when the update
// carries a webhook list.
func (z *ZapierIntegration) UpdateConfig(u ConfigUpdate) {
	z.Base.UpdateConfig(u)
	if _, ok := u.Settings["webhooks"]; ok {
		z.hydrate()
	}
}

func (z *ZapierIntegration) Scrub() {
	z.Base.Scrub()
	z.hydrate()
}

// persist writes the full webhook list back to settings. Callers hold hooksMu.
func (z *ZapierIntegration) persist() {
	z.Base.UpdateConfig(ConfigUpdate{Settings: map[string]any{"webhooks": slices.Clone(z.webhooks)}})
}

func (z *ZapierIntegration) IsConfigured() bool {
	z.hooksMu.RLock()
	defer z.hooksMu.RUnlock()
	return len(z.webhooks) > 0
}

// Authenticate registers the catch hook URL in webhookUrl for the event in
// event (bookmark.created by default).
func (z *ZapierIntegration) Authenticate(ctx context.Context, creds Credentials) (bool, error) {
	event := WebhookEvent(nonEmpty(creds["event"], string(EventBookmarkCreated)))
	if _, err := z.AddWebhook(ZapierWebhook{URL: creds["webhookUrl"], Event: event, Enabled: true}); err != nil {
		z.logger.Warn().Err(err).Msg("Rejected Zapier webhook")
		return false, nil
	}
	return true, nil
}

// Import returns an empty result; Zapier is push only.
func (z *ZapierIntegration) Import(ctx context.Context) (*ImportResult, error) {
	return (&ImportResult{Errors: []string{}}).Finalize(), nil
}

// Webhooks returns a copy of the configured webhooks.
func (z *ZapierIntegration) Webhooks() []ZapierWebhook {
	z.hooksMu.RLock()
	defer z.hooksMu.RUnlock()
	return slices.Clone(z.webhooks)
}

func (z *ZapierIntegration) AddWebhook(w ZapierWebhook) (ZapierWebhook, error) {
	if err := validateWebhook(w); err != nil {
		return ZapierWebhook{}, err
	}
	if _, err := z.client.guard.Check(w.URL); err != nil {
		return ZapierWebhook{}, err
	}
	w.ID = uuid.NewString()

	z.hooksMu.Lock()
	defer z.hooksMu.Unlock()
	z.webhooks = append(z.webhooks, w)
	z.persist()
	z.logger.Info().Str("webhook_id", w.ID).Str("event", string(w.Event)).Msg("Zapier webhook added")
	return w, nil
}

func (z *ZapierIntegration) RemoveWebhook(id string) error {
	z.hooksMu.Lock()
	defer z.hooksMu.Unlock()
	i := slices.IndexFunc(z.webhooks, func(w ZapierWebhook) bool { return w.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: webhook %s", ErrNotFound, id)
	}
	z.webhooks = slices.Delete(z.webhooks, i, i+1)
	z.persist()
	z.logger.Info().Str("webhook_id", id).Msg("Zapier webhook removed")
	return nil
}

// WebhookUpdate is a partial webhook change; nil fields are kept.
type WebhookUpdate struct {
	URL     *string         `json:"url,omitempty"`
	Event   *WebhookEvent   `json:"event,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
	Filters *WebhookFilters `json:"filters,omitempty"`
}

func (z *ZapierIntegration) UpdateWebhook(id string, u WebhookUpdate) (ZapierWebhook, error) {
	z.hooksMu.Lock()
	defer z.hooksMu.Unlock()
	i := slices.IndexFunc(z.webhooks, func(w ZapierWebhook) bool { return w.ID == id })
	if i < 0 {
		return ZapierWebhook{}, fmt.Errorf("%w: webhook %s", ErrNotFound, id)
	}

	w := z.webhooks[i]
	if u.URL != nil {
		w.URL = *u.URL
	}
	if u.Event != nil {
		w.Event = *u.Event
	}
	if u.Enabled != nil {
		w.Enabled = *u.Enabled
	}
	if u.Filters != nil {
		w.Filters = u.Filters
	}
	if err := validateWebhook(w); err != nil {
		return ZapierWebhook{}, err
	}
	if _, err := z.client.guard.Check(w.URL); err != nil {
		return ZapierWebhook{}, err
	}

	z.webhooks[i] = w
	z.persist()
	return w, nil
}

// DispatchResult summarizes one event delivery.
type DispatchResult struct {
	Event     WebhookEvent `json:"event"`
	Matched   int          `json:"matched"`
	Delivered int          `json:"delivered"`
	Failed    int          `json:"failed"`
	Errors    []string     `json:"errors"`
}

type webhookPayload struct {
	Event     WebhookEvent   `json:"event"`
	Timestamp string         `json:"timestamp"`
	Bookmark  BookmarkData   `json:"bookmark"`
	Changes   map[string]any `json:"changes,omitempty"`
}

func (z *ZapierIntegration) TriggerBookmarkCreated(ctx context.Context, b BookmarkData) *DispatchResult {
	return z.Trigger(ctx, EventBookmarkCreated, b, nil)
}

func (z *ZapierIntegration) TriggerBookmarkUpdated(ctx context.Context, b BookmarkData, changes map[string]any) *DispatchResult {
	return z.Trigger(ctx, EventBookmarkUpdated, b, changes)
}

func (z *ZapierIntegration) TriggerBookmarkDeleted(ctx context.Context, b BookmarkData) *DispatchResult {
	return z.Trigger(ctx, EventBookmarkDeleted, b, nil)
}

func (z *ZapierIntegration) TriggerBookmarkTagged(ctx context.Context, b BookmarkData, addedTags []string) *DispatchResult {
	return z.Trigger(ctx, EventBookmarkTagged, b, map[string]any{"addedTags": addedTags})
}

func (z *ZapierIntegration) TriggerBookmarkCategorized(ctx context.Context, b BookmarkData, previous string) *DispatchResult {
	return z.Trigger(ctx, EventBookmarkCategorized, b, map[string]any{
		"previousCategory": previous,
		"category":         b.Category,
	})
}

// Trigger sends event to every enabled webhook subscribed to it whose
// filters match the bookmark. Deliveries run concurrently and one failing
// webhook does not affect the others.
func (z *ZapierIntegration) Trigger(ctx context.Context, event WebhookEvent, b BookmarkData, changes map[string]any) *DispatchResult {
	var targets []ZapierWebhook
	for _, w := range z.Webhooks() {
		if w.Enabled && w.Event == event && matchesFilters(w, b) {
			targets = append(targets, w)
		}
	}

	result := &DispatchResult{Event: event, Matched: len(targets), Errors: []string{}}
	if len(targets) == 0 {
		return result
	}

	payload := webhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Bookmark:  b,
		Changes:   changes,
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, w := range targets {
		wg.Add(1)
		go func(i int, w ZapierWebhook) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("webhook %s panicked: %v", w.ID, r)
				}
			}()
			errs[i] = z.deliver(ctx, w, payload)
		}(i, w)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("webhook %s: %v", targets[i].ID, err))
			z.logger.Warn().Err(err).Str("webhook_id", targets[i].ID).Str("event", string(event)).Msg("Webhook delivery failed")
			continue
		}
		result.Delivered++
	}
	z.logger.Debug().Str("event", string(event)).Int("delivered", result.Delivered).Int("failed", result.Failed).Msg("Webhook dispatch finished")
	return result
}

func (z *ZapierIntegration) deliver(ctx context.Context, w ZapierWebhook, payload webhookPayload) error {
	return z.client.do(ctx, request{
		method:   http.MethodPost,
		endpoint: w.URL,
		body:     payload,
		headers:  map[string]string{"User-Agent": zapierUserAgent},
	}, nil)
}

// TestWebhook sends one canned event to one webhook, regardless of its
// enabled flag and filters.
func (z *ZapierIntegration) TestWebhook(ctx context.Context, id string) bool {
	var target *ZapierWebhook
	for _, w := range z.Webhooks() {
		if w.ID == id {
			target = &w
			break
		}
	}
	if target == nil {
		z.logger.Warn().Str("webhook_id", id).Msg("Test requested for unknown webhook")
		return false
	}

	now := time.Now()
	sample := BookmarkData{
		URL:         "https://example.com/markhub-webhook-test",
		Title:       "markhub webhook test",
		Description: "This bookmark was generated to test your Zapier webhook.",
		Tags:        []string{"test", "markhub"},
		Category:    "General",
		CreatedAt:   &now,
		Source:      ZapierID,
		SourceID:    "test-" + id,
	}
	err := z.deliver(ctx, *target, webhookPayload{
		Event:     target.Event,
		Timestamp: now.UTC().Format(time.RFC3339),
		Bookmark:  sample,
	})
	if err != nil {
		z.logger.Warn().Err(err).Str("webhook_id", id).Msg("Webhook test failed")
		return false
	}
	return true
}

// Export announces each bookmark as bookmark.created.
func (z *ZapierIntegration) Export(ctx context.Context, bookmarks []BookmarkData) (*ExportResult, error) {
	result := &ExportResult{Errors: []string{}}
	for _, b := range bookmarks {
		if err := validateBookmark(b); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		d := z.TriggerBookmarkCreated(ctx, b)
		if d.Failed > 0 {
			result.Failed++
			result.Errors = append(result.Errors, d.Errors...)
			continue
		}
		result.Exported++
	}
	return result.Finalize(), nil
}

// matchesFilters applies a webhook's filters. Empty filters match; an
// unparsable bookmark URL skips only the domain check.
func matchesFilters(w ZapierWebhook, b BookmarkData) bool {
	f := w.Filters
	if f == nil {
		return true
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, b.Category) {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(b.Tags, func(t string) bool { return slices.Contains(f.Tags, t) }) {
		return false
	}
	if len(f.Domains) > 0 {
		u, err := url.Parse(b.URL)
		if err != nil || u.Hostname() == "" {
			return true
		}
		host := strings.ToLower(u.Hostname())
		if !slices.ContainsFunc(f.Domains, func(d string) bool {
			return d != "" && strings.Contains(host, strings.ToLower(d))
		}) {
			return false
		}
	}
	return true
}

var (
	_ Integration = (*ZapierIntegration)(nil)
	_ Exporter    = (*ZapierIntegration)(nil)
)

package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookRecorder struct {
	mu       sync.Mutex
	hits     map[string]int
	payloads map[string][]webhookPayload
	agents   []string
}

func newHookServer(t *testing.T) (*httptest.Server, *hookRecorder) {
	rec := &hookRecorder{hits: map[string]int{}, payloads: map[string][]webhookPayload{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		rec.mu.Lock()
		rec.hits[r.URL.Path]++
		rec.payloads[r.URL.Path] = append(rec.payloads[r.URL.Path], p)
		rec.agents = append(rec.agents, r.Header.Get("User-Agent"))
		rec.mu.Unlock()
		if r.URL.Path == "/broken" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestZapier() *ZapierIntegration {
	return NewZapierIntegration(WithURLGuard(NewURLGuard(AllowPrivateHosts())), WithRateLimit(1000))
}

func TestZapierWebhookCRUD(t *testing.T) {
	z := newTestZapier()
	assert.False(t, z.IsConfigured())

	_, err := z.AddWebhook(ZapierWebhook{URL: "not a url", Event: EventBookmarkCreated})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = z.AddWebhook(ZapierWebhook{URL: "https://hooks.zapier.com/a", Event: "bookmark.exploded"})
	assert.ErrorIs(t, err, ErrValidation)

	w, err := z.AddWebhook(ZapierWebhook{URL: "https://hooks.zapier.com/a", Event: EventBookmarkCreated, Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.True(t, z.IsConfigured())

	var persisted []ZapierWebhook
	ok, err := z.decodeSetting("webhooks", &persisted)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, []ZapierWebhook{w}, persisted)

	updated, err := z.UpdateWebhook(w.ID, WebhookUpdate{Enabled: boolPtr(false), Filters: &WebhookFilters{Tags: []string{"go"}}})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "https://hooks.zapier.com/a", updated.URL)
	assert.Equal(t, []string{"go"}, z.Webhooks()[0].Filters.Tags)

	_, err = z.UpdateWebhook("missing", WebhookUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, z.RemoveWebhook(w.ID))
	assert.ErrorIs(t, z.RemoveWebhook(w.ID), ErrNotFound)
	assert.Empty(t, z.Webhooks())
	assert.False(t, z.IsConfigured())
}

func TestZapierStrictGuardRejectsPrivateWebhook(t *testing.T) {
	z := NewZapierIntegration()
	_, err := z.AddWebhook(ZapierWebhook{URL: "http://127.0.0.1:8080/hook", Event: EventBookmarkCreated, Enabled: true})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestZapierDisabledWebhookNeverFires(t *testing.T) {
	srv, rec := newHookServer(t)
	z := newTestZapier()

	_, err := z.AddWebhook(ZapierWebhook{URL: srv.URL + "/disabled", Event: EventBookmarkCreated, Enabled: false})
	require.NoError(t, err)
	_, err = z.AddWebhook(ZapierWebhook{URL: srv.URL + "/enabled", Event: EventBookmarkCreated, Enabled: true})
	require.NoError(t, err)
	_, err = z.AddWebhook(ZapierWebhook{URL: srv.URL + "/deleted", Event: EventBookmarkDeleted, Enabled: true})
	require.NoError(t, err)

	res := z.TriggerBookmarkCreated(context.Background(), BookmarkData{URL: "https://go.dev", Title: "Go", Source: "test"})
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Delivered)

	assert.Zero(t, rec.hits["/disabled"])
	assert.Zero(t, rec.hits["/deleted"])
	require.Equal(t, 1, rec.hits["/enabled"])
	p := rec.payloads["/enabled"][0]
	assert.Equal(t, EventBookmarkCreated, p.Event)
	assert.Equal(t, "https://go.dev", p.Bookmark.URL)
	assert.NotEmpty(t, p.Timestamp)
	assert.Equal(t, []string{zapierUserAgent}, rec.agents)
}

func TestZapierFailureIsIsolated(t *testing.T) {
	srv, rec := newHookServer(t)
	z := newTestZapier()
	for _, path := range []string{"/broken", "/ok-1", "/ok-2"} {
		_, err := z.AddWebhook(ZapierWebhook{URL: srv.URL + path, Event: EventBookmarkUpdated, Enabled: true})
		require.NoError(t, err)
	}

	res := z.TriggerBookmarkUpdated(context.Background(), BookmarkData{URL: "https://go.dev"}, map[string]any{"title": "new"})
	assert.Equal(t, 3, res.Matched)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, rec.hits["/broken"], "failed deliveries are not retried")
	assert.Equal(t, "new", rec.payloads["/ok-1"][0].Changes["title"])
}

func TestMatchesFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters *WebhookFilters
		b       BookmarkData
		want    bool
	}{
		{"no filters", nil, BookmarkData{URL: "https://a.com"}, true},
		{"empty filters", &WebhookFilters{}, BookmarkData{URL: "https://a.com"}, true},
		{"domain substring", &WebhookFilters{Domains: []string{"example.com"}}, BookmarkData{URL: "https://sub.example.com/x"}, true},
		{"domain mismatch", &WebhookFilters{Domains: []string{"example.com"}}, BookmarkData{URL: "https://go.dev"}, false},
		{"malformed url fails open", &WebhookFilters{Domains: []string{"example.com"}}, BookmarkData{URL: "not a url"}, true},
		{"malformed url still checks categories", &WebhookFilters{Domains: []string{"example.com"}, Categories: []string{"News"}}, BookmarkData{URL: "not a url", Category: "General"}, false},
		{"category match", &WebhookFilters{Categories: []string{"News", "Programming"}}, BookmarkData{Category: "Programming"}, true},
		{"tag overlap", &WebhookFilters{Tags: []string{"go", "rust"}}, BookmarkData{Tags: []string{"python", "go"}}, true},
		{"no tag overlap", &WebhookFilters{Tags: []string{"go"}}, BookmarkData{Tags: []string{"python"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesFilters(ZapierWebhook{Filters: tt.filters}, tt.b))
		})
	}
}

func TestZapierTestWebhook(t *testing.T) {
	srv, rec := newHookServer(t)
	z := newTestZapier()

	good, err := z.AddWebhook(ZapierWebhook{URL: srv.URL + "/good", Event: EventBookmarkTagged, Enabled: false, Filters: &WebhookFilters{Tags: []string{"never"}}})
	require.NoError(t, err)
	bad, err := z.AddWebhook(ZapierWebhook{URL: srv.URL + "/broken", Event: EventBookmarkCreated, Enabled: true})
	require.NoError(t, err)

	assert.True(t, z.TestWebhook(context.Background(), good.ID), "ignores enabled flag and filters")
	assert.False(t, z.TestWebhook(context.Background(), bad.ID))
	assert.False(t, z.TestWebhook(context.Background(), "unknown"))

	require.Len(t, rec.payloads["/good"], 1)
	assert.Equal(t, EventBookmarkTagged, rec.payloads["/good"][0].Event)
	assert.Equal(t, ZapierID, rec.payloads["/good"][0].Bookmark.Source)
}

func TestZapierAuthenticateImportExport(t *testing.T) {
	srv, rec := newHookServer(t)
	z := newTestZapier()

	ok, err := z.Authenticate(context.Background(), Credentials{"webhookUrl": "ftp://files"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = z.Authenticate(context.Background(), Credentials{"webhookUrl": srv.URL + "/created"})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, z.Webhooks(), 1)
	assert.Equal(t, EventBookmarkCreated, z.Webhooks()[0].Event)

	res, err := z.Import(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.Imported)

	exp, err := z.Export(context.Background(), []BookmarkData{{URL: "https://a.example"}, {URL: "https://b.example"}, {}})
	require.NoError(t, err)
	assert.Equal(t, 2, exp.Exported)
	assert.Equal(t, 1, exp.Failed)
	assert.Equal(t, 2, rec.hits["/created"])
}

func TestZapierSemanticTriggers(t *testing.T) {
	srv, rec := newHookServer(t)
	z := newTestZapier()
	for _, ev := range []WebhookEvent{EventBookmarkDeleted, EventBookmarkTagged, EventBookmarkCategorized} {
		_, err := z.AddWebhook(ZapierWebhook{URL: srv.URL + "/" + string(ev), Event: ev, Enabled: true})
		require.NoError(t, err)
	}
	b := BookmarkData{URL: "https://go.dev", Category: "Programming", Tags: []string{"go"}}

	z.TriggerBookmarkDeleted(context.Background(), b)
	z.TriggerBookmarkTagged(context.Background(), b, []string{"go"})
	z.TriggerBookmarkCategorized(context.Background(), b, "General")

	assert.Equal(t, 1, rec.hits["/bookmark.deleted"])
	tagged := rec.payloads["/bookmark.tagged"][0]
	assert.Equal(t, []any{"go"}, tagged.Changes["addedTags"])
	categorized := rec.payloads["/bookmark.categorized"][0]
	assert.Equal(t, "General", categorized.Changes["previousCategory"])
	assert.Equal(t, "Programming", categorized.Changes["category"])
}

func TestZapierRehydratesAndScrubs(t *testing.T) {
	z := newTestZapier()
	z.UpdateConfig(ConfigUpdate{Settings: map[string]any{
		"webhooks": `[{"id":"w1","url":"https://hooks.zapier.com/1","event":"bookmark.created","enabled":true}]`,
	}})
	require.Len(t, z.Webhooks(), 1)
	assert.Equal(t, "w1", z.Webhooks()[0].ID)

	z.Scrub()
	assert.Empty(t, z.Webhooks())
	assert.False(t, z.IsConfigured())
}

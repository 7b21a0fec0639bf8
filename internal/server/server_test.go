package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/user/markhub/internal/config"
	"github.com/user/markhub/internal/db"
	"github.com/user/markhub/internal/indexer"
	"github.com/user/markhub/internal/integrations"
)

const bookmarksFile = `{
	"roots": {
		"bookmark_bar": {"id": "1", "name": "Bookmarks bar", "type": "folder", "children": [
			{"id": "10", "name": "Go", "type": "url", "url": "https://go.dev"},
			{"id": "11", "name": "Dev", "type": "folder", "children": [
				{"id": "12", "name": "GitHub", "type": "url", "url": "https://github.com"}
			]}
		]},
		"other": {"id": "2", "name": "Other bookmarks", "type": "folder", "children": []},
		"synced": {"id": "3", "name": "Mobile bookmarks", "type": "folder", "children": []}
	}
}`

type testEnv struct {
	server  *Server
	manager *integrations.Manager
	store   *db.Store
	indexer *indexer.Indexer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := db.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := arbor.NewNoOpLogger()
	manager := integrations.NewManager(logger, store)
	manager.RegisterDefaults(
		integrations.WithLogger(logger),
		integrations.WithURLGuard(integrations.NewURLGuard(integrations.AllowPrivateHosts())),
		integrations.WithRateLimit(1000),
	)

	zapier, err := manager.Get(integrations.ZapierID)
	require.NoError(t, err)
	ix := indexer.New(store, zapier.(indexer.Notifier), logger, indexer.Options{Silent: true})

	srv := New(Deps{Manager: manager, Indexer: ix, Store: store, Logger: logger}, config.ServerConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	return &testEnv{server: srv, manager: manager, store: store, indexer: ix}
}

func (e *testEnv) get(t *testing.T, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/integrations?"+query, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) post(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/integrations", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListIntegrations(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "action=list")
	require.Equal(t, http.StatusOK, rec.Code)

	statuses := decode[[]integrations.Status](t, rec)
	require.Len(t, statuses, 5)
	ids := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ids = append(ids, s.ID)
		assert.False(t, s.Enabled)
		assert.NotEmpty(t, s.Name)
	}
	assert.Equal(t, []string{"chrome", "notion", "reddit", "twitter", "zapier"}, ids)
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.manager.SetIntegrationEnabled(integrations.NotionID, true))

	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"unknown integration", "action=status&id=nope", http.StatusNotFound},
		{"missing id", "action=status", http.StatusBadRequest},
		{"disabled import", "action=import&id=reddit", http.StatusConflict},
		{"unconfigured import", "action=import&id=notion", http.StatusConflict},
		{"sync unsupported", "action=sync&id=zapier", http.StatusConflict},
		{"unknown action", "action=explode", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, tt.query)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestStatusForProviderError(t *testing.T) {
	err := fmt.Errorf("import from twitter: %w", &integrations.ProviderError{Provider: "Twitter", StatusCode: 401})
	assert.Equal(t, http.StatusBadGateway, statusFor(err))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestChromeUploadImportAndExport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, map[string]any{"action": "upload-file", "fileData": "{broken", "fileName": "Bookmarks"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post(t, map[string]any{"action": "upload-file", "fileData": bookmarksFile, "fileName": "Bookmarks"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[integrations.Status](t, rec).Configured)

	rec = env.post(t, map[string]any{"action": "enable", "integrationId": "chrome"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[integrations.Status](t, rec).Enabled)

	rec = env.get(t, "action=import&id=chrome")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Result integrations.ImportResult `json:"result"`
		Stored indexer.Stats             `json:"stored"`
	}](t, rec)
	assert.Equal(t, 2, body.Result.Imported)
	assert.Equal(t, 2, body.Stored.New)

	rec = env.get(t, "action=import&id=chrome")
	require.Equal(t, http.StatusOK, rec.Code)
	body.Stored = indexer.Stats{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Stored.Duplicates)
	assert.Equal(t, 2, body.Result.Duplicates)

	n, err := env.store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec = env.post(t, map[string]any{"action": "export", "integrationId": "chrome", "fromStore": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exported := decode[struct {
		Result     integrations.ExportResult `json:"result"`
		ExportData json.RawMessage           `json:"exportData"`
	}](t, rec)
	assert.Equal(t, 2, exported.Result.Exported)
	assert.Contains(t, string(exported.ExportData), "https://go.dev")

	// the stored config survives a restart
	configs, err := env.store.LoadIntegrations()
	require.NoError(t, err)
	var found bool
	for _, c := range configs {
		if c.ID == "chrome" {
			found = true
			assert.True(t, c.Enabled)
			assert.NotZero(t, c.LastSync)
		}
	}
	assert.True(t, found)
}

func TestWebhookActions(t *testing.T) {
	env := newTestEnv(t)

	var hits atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	rec := env.post(t, map[string]any{
		"action":  "add-webhook",
		"webhook": map[string]any{"url": "not a url", "event": "bookmark.created", "enabled": true},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post(t, map[string]any{
		"action":  "add-webhook",
		"webhook": map[string]any{"url": hook.URL, "event": "bookmark.created", "enabled": true},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[integrations.ZapierWebhook](t, rec)
	assert.NotEmpty(t, created.ID)

	rec = env.get(t, "action=webhooks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]integrations.ZapierWebhook](t, rec), 1)

	rec = env.post(t, map[string]any{"action": "test-webhook", "webhookId": created.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["success"])

	rec = env.post(t, map[string]any{
		"action":   "trigger-webhook",
		"event":    "bookmark.created",
		"bookmark": map[string]any{"url": "https://go.dev", "title": "Go", "source": "manual"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dispatch := decode[integrations.DispatchResult](t, rec)
	assert.Equal(t, 1, dispatch.Delivered)

	rec = env.post(t, map[string]any{
		"action":   "trigger-webhook",
		"event":    "bookmark.exploded",
		"bookmark": map[string]any{"url": "https://go.dev"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// new bookmarks added by hand notify the enabled zapier integration
	require.NoError(t, env.manager.SetIntegrationEnabled(integrations.ZapierID, true))
	_, err := env.indexer.AddManualURL(context.Background(), "https://example.org", "Example", nil, "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	rec = env.post(t, map[string]any{"action": "remove-webhook", "webhookId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.post(t, map[string]any{"action": "remove-webhook", "webhookId": created.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.get(t, "action=webhooks")
	assert.Empty(t, decode[[]integrations.ZapierWebhook](t, rec))
}

func TestDeleteScrubsIntegration(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, map[string]any{
		"action":        "configure",
		"integrationId": "notion",
		"config": map[string]any{
			"enabled":     true,
			"accessToken": "secret",
			"settings":    map[string]any{"databaseId": "db1"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[integrations.Status](t, rec)
	assert.True(t, status.Enabled)
	assert.True(t, status.Configured)

	req := httptest.NewRequest(http.MethodDelete, "/api/integrations?id=notion", nil)
	del := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(del, req)
	require.Equal(t, http.StatusOK, del.Code)

	i, err := env.manager.Get(integrations.NotionID)
	require.NoError(t, err)
	cfg := i.Config()
	assert.False(t, cfg.Enabled)
	assert.Empty(t, cfg.AccessToken)
	assert.Empty(t, cfg.Settings)

	req = httptest.NewRequest(http.MethodDelete, "/api/integrations", nil)
	del = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(del, req)
	assert.Equal(t, http.StatusBadRequest, del.Code)
}

func TestPostDisableScrubsIntegration(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, map[string]any{
		"action":        "configure",
		"integrationId": "notion",
		"config": map[string]any{
			"enabled":      true,
			"accessToken":  "secret",
			"refreshToken": "refresh",
			"settings":     map[string]any{"databaseId": "db1"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.post(t, map[string]any{"action": "disable", "integrationId": "notion"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[integrations.Status](t, rec)
	assert.False(t, status.Enabled)
	assert.False(t, status.Configured)

	i, err := env.manager.Get(integrations.NotionID)
	require.NoError(t, err)
	cfg := i.Config()
	assert.False(t, cfg.Enabled)
	assert.Empty(t, cfg.AccessToken)
	assert.Empty(t, cfg.RefreshToken)
	assert.Empty(t, cfg.Settings)

	persisted, err := env.store.LoadIntegrations()
	require.NoError(t, err)
	var found bool
	for _, c := range persisted {
		if c.ID == integrations.NotionID {
			found = true
			assert.Empty(t, c.AccessToken)
			assert.False(t, c.Enabled)
		}
	}
	assert.True(t, found, "disabled config is persisted")
}

func TestDeleteBookmark(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.indexer.AddManualURL(context.Background(), "https://go.dev/blog", "Go blog", nil, "")
	require.NoError(t, err)

	rec := env.post(t, map[string]any{"action": "delete-bookmark", "url": "https://go.dev/blog"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Go blog", decode[integrations.BookmarkData](t, rec).Title)

	n, err := env.store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = env.post(t, map[string]any{"action": "delete-bookmark", "url": "https://go.dev/blog"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.post(t, map[string]any{"action": "delete-bookmark"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/integrations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/integrations", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSchedulerRunOnceStoresSyncedBookmarks(t *testing.T) {
	env := newTestEnv(t)

	chrome, err := env.manager.Get(integrations.ChromeID)
	require.NoError(t, err)
	require.NoError(t, chrome.(*integrations.ChromeIntegration).UploadFile([]byte(bookmarksFile), "Bookmarks"))

	longAgo := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, env.manager.UpdateIntegrationConfig(integrations.ChromeID, integrations.ConfigUpdate{
		Enabled:      ptr(true),
		LastSync:     ptr(longAgo),
		SyncInterval: ptr(int64(time.Minute / time.Millisecond)),
	}))

	sched := NewScheduler(env.manager, env.indexer, env.store, nil, "@every 1h")
	assert.True(t, sched.LastRun().IsZero())

	stored := sched.RunOnce(context.Background())
	require.Contains(t, stored, integrations.ChromeID)
	assert.Equal(t, 2, stored[integrations.ChromeID].New)
	assert.False(t, sched.LastRun().IsZero())
	assert.Greater(t, chrome.LastSync(), longAgo)

	// not due again until the interval passes
	stored = sched.RunOnce(context.Background())
	assert.Empty(t, stored)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t)
	sched := NewScheduler(env.manager, env.indexer, env.store, nil, "every now and then")
	assert.Error(t, sched.Start(context.Background()))
}

func ptr[T any](v T) *T { return &v }

func TestWriteJSONEncodeFailure(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.server.writeJSON(rec, http.StatusOK, map[string]any{"ch": make(chan int)})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Body.String())
}

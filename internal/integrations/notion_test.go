package integrations

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notionDatabaseJSON = `{
	"id": "db1",
	"title": [{"plain_text": "Reading list"}],
	"properties": {
		"Name": {"type": "title"},
		"URL": {"type": "url"},
		"Tags": {"type": "multi_select"},
		"Category": {"type": "select"}
	}
}`

const notionPageOne = `{
	"results": [{
		"id": "p1",
		"url": "https://www.notion.so/p1",
		"created_time": "2024-01-02T03:04:05.000Z",
		"properties": {
			"Name": {"type": "title", "title": [{"plain_text": "Go memory model"}]},
			"URL": {"type": "url", "url": "https://go.dev/ref/mem"},
			"Tags": {"type": "multi_select", "multi_select": [{"name": "go"}, {"name": "concurrency"}]},
			"Category": {"type": "select", "select": {"name": "Programming"}}
		}
	}],
	"has_more": true,
	"next_cursor": "cursor-2"
}`

const notionPageTwo = `{
	"results": [
		{
			"id": "p2",
			"properties": {
				"Title": {"type": "title", "title": [{"plain_text": "Lowercase link"}]},
				"Link": {"type": "url", "url": "https://example.com/two"}
			}
		},
		{
			"id": "p3",
			"properties": {
				"Name": {"type": "title", "title": [{"plain_text": "No link here"}]}
			}
		}
	],
	"has_more": false,
	"next_cursor": null
}`

type notionFixture struct {
	mu       sync.Mutex
	queries  []map[string]any
	pages    []map[string]any
	failURLs map[string]bool
}

func (f *notionFixture) server(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			http.Error(w, `{"code":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/databases/db1":
			_, _ = io.WriteString(w, notionDatabaseJSON)
		case r.Method == http.MethodGet:
			http.Error(w, `{"code":"object_not_found"}`, http.StatusNotFound)
		case r.URL.Path == "/v1/databases/db1/query":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.mu.Lock()
			f.queries = append(f.queries, body)
			f.mu.Unlock()
			if body["start_cursor"] == "cursor-2" {
				_, _ = io.WriteString(w, notionPageTwo)
				return
			}
			_, _ = io.WriteString(w, notionPageOne)
		case r.URL.Path == "/v1/pages":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			props := body["properties"].(map[string]any)
			link := props["URL"].(map[string]any)["url"].(string)
			if f.failURLs[link] {
				http.Error(w, `{"code":"validation_error"}`, http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.pages = append(f.pages, body)
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{"id":"new"}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestNotion(t *testing.T, f *notionFixture) *NotionIntegration {
	srv := f.server(t)
	t.Cleanup(srv.Close)
	return NewNotionIntegration(WithBaseURL(srv.URL), WithURLGuard(NewURLGuard(AllowPrivateHosts())), WithRateLimit(1000))
}

func authenticateNotion(t *testing.T, n *NotionIntegration) {
	ok, err := n.Authenticate(context.Background(), Credentials{"accessToken": "secret-token", "databaseId": "db1"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNotionAuthenticate(t *testing.T) {
	n := newTestNotion(t, &notionFixture{})

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"missing database", Credentials{"accessToken": "secret-token"}},
		{"bad token", Credentials{"accessToken": "nope", "databaseId": "db1"}},
		{"unknown database", Credentials{"accessToken": "secret-token", "databaseId": "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := n.Authenticate(context.Background(), tt.creds)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
	assert.False(t, n.IsConfigured())

	authenticateNotion(t, n)
	assert.True(t, n.IsConfigured())
	cfg := n.Config()
	assert.Equal(t, "db1", cfg.Settings["databaseId"])
	assert.Equal(t, "Reading list", cfg.Settings["databaseTitle"])
	assert.Equal(t, map[string]string{"Name": "title", "URL": "url", "Tags": "multi_select", "Category": "select"}, n.schema())
}

func TestNotionImportSkipsPagesWithoutURL(t *testing.T) {
	f := &notionFixture{}
	n := newTestNotion(t, f)
	authenticateNotion(t, n)

	res, err := n.Import(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Imported)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Data, 2)
	require.Len(t, f.queries, 2)
	assert.Equal(t, float64(100), f.queries[0]["page_size"])

	first := res.Data[0]
	assert.Equal(t, "https://go.dev/ref/mem", first.URL)
	assert.Equal(t, "Go memory model", first.Title)
	assert.Equal(t, []string{"go", "concurrency"}, first.Tags)
	assert.Equal(t, "Programming", first.Category)
	assert.Equal(t, "p1", first.SourceID)
	require.NotNil(t, first.CreatedAt)

	second := res.Data[1]
	assert.Equal(t, "https://example.com/two", second.URL)
	assert.Equal(t, "Lowercase link", second.Title)
	assert.Equal(t, []string{"notion"}, second.Tags)
	assert.Equal(t, "General", second.Category)
}

func TestNotionExport(t *testing.T) {
	f := &notionFixture{failURLs: map[string]bool{"https://fails.example": true}}
	n := newTestNotion(t, f)
	authenticateNotion(t, n)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	res, err := n.Export(context.Background(), []BookmarkData{
		{URL: "https://go.dev", Title: "Go", Description: strings.Repeat("d", 2500), Tags: []string{"go"}, Category: "Programming", CreatedAt: &created},
		{URL: "https://fails.example", Title: "Fails"},
		{Title: "no url"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Exported)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, f.pages, 1)

	page := f.pages[0]
	assert.Equal(t, "db1", page["parent"].(map[string]any)["database_id"])
	props := page["properties"].(map[string]any)
	assert.Contains(t, props, "Name")
	assert.Contains(t, props, "Tags")
	assert.Contains(t, props, "Category")
	assert.NotContains(t, props, "Description", "not in the schema snapshot")
	assert.NotContains(t, props, "Created", "not in the schema snapshot")
}

func TestNotionPropertiesWithoutSchema(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	props := notionProperties(BookmarkData{
		URL:         "https://go.dev",
		Description: strings.Repeat("é", 2100),
		Tags:        []string{"a,b"},
		Category:    "General",
		CreatedAt:   &created,
	}, nil)

	title := props["Name"].(map[string]any)["title"].([]map[string]any)
	assert.Equal(t, "https://go.dev", title[0]["text"].(map[string]any)["content"], "title falls back to the URL")

	desc := props["Description"].(map[string]any)["rich_text"].([]map[string]any)
	assert.Len(t, []rune(desc[0]["text"].(map[string]any)["content"].(string)), 2000)

	tags := props["Tags"].(map[string]any)["multi_select"].([]map[string]any)
	assert.Equal(t, "a b", tags[0]["name"])
	assert.Equal(t, "2024-05-01T12:00:00Z", props["Created"].(map[string]any)["date"].(map[string]any)["start"])
}

func TestNotionImportRequiresConfig(t *testing.T) {
	n := NewNotionIntegration()
	_, err := n.Import(context.Background())
	assert.ErrorIs(t, err, ErrUnconfigured)
}

func TestNotionRepeatedCursorStops(t *testing.T) {
	var queries atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, notionDatabaseJSON)
			return
		}
		queries.Add(1)
		_, _ = io.WriteString(w, `{"results": [], "has_more": true, "next_cursor": "stuck"}`)
	}))
	defer srv.Close()
	n := NewNotionIntegration(WithBaseURL(srv.URL), WithURLGuard(NewURLGuard(AllowPrivateHosts())), WithRateLimit(1000))
	authenticateNotion(t, n)

	_, err := n.Import(context.Background())
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Equal(t, int32(2), queries.Load())
}

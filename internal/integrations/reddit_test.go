package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redditChild(kind, name, subreddit, url string, self bool) map[string]any {
	return map[string]any{
		"kind": kind,
		"data": map[string]any{
			"id":           strings.TrimPrefix(name, kind+"_"),
			"name":         name,
			"title":        "Post " + name,
			"url":          url,
			"permalink":    "/r/" + subreddit + "/comments/" + name + "/post/",
			"subreddit":    subreddit,
			"author":       "someone",
			"score":        42,
			"num_comments": 7,
			"created_utc":  1700000000.0,
			"is_self":      self,
			"selftext":     "",
		},
	}
}

func redditListingJSON(after string, children ...map[string]any) map[string]any {
	var a any
	if after != "" {
		a = after
	}
	return map[string]any{"kind": "Listing", "data": map[string]any{"after": a, "children": children}}
}

func newRedditServer(t *testing.T, listings map[string][]map[string]any, tokenCalls, listingCalls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/access_token" {
			tokenCalls.Add(1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client", user)
			assert.NoError(t, r.ParseForm())
			if pass != "secret" || r.PostForm.Get("password") != "hunter2" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			assert.Equal(t, "password", r.PostForm.Get("grant_type"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600,"scope":"identity history read"}`))
			return
		}

		listingCalls.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "markhub")
		pages, ok := listings[r.URL.Path]
		if !ok {
			http.Error(w, `{"message":"Forbidden"}`, http.StatusForbidden)
			return
		}
		idx := 0
		if after := r.URL.Query().Get("after"); after != "" {
			idx = int(after[len(after)-1] - '0')
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pages[idx])
	}))
}

func newTestReddit(t *testing.T, srv *httptest.Server) *RedditIntegration {
	return NewRedditIntegration(
		WithBaseURL(srv.URL),
		WithAuthURL(srv.URL+"/api/v1/access_token"),
		WithURLGuard(NewURLGuard(AllowPrivateHosts())),
		WithRateLimit(1000),
	)
}

func TestRedditAuthenticate(t *testing.T) {
	var tokenCalls, listingCalls atomic.Int32
	srv := newRedditServer(t, nil, &tokenCalls, &listingCalls)
	defer srv.Close()
	r := newTestReddit(t, srv)

	assert.True(t, r.NeedsReauth(), "no token yet")

	ok, err := r.Authenticate(context.Background(), Credentials{
		"clientId": "client", "clientSecret": "secret", "username": "spez", "password": "wrong",
	})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Authenticate(context.Background(), Credentials{
		"clientId": "client", "clientSecret": "secret", "username": "spez", "password": "hunter2",
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, r.NeedsReauth())
	assert.True(t, r.IsConfigured())

	cfg := r.Config()
	assert.Equal(t, "spez", cfg.Settings["username"])
	assert.NotContains(t, cfg.Settings, "password")
	assert.Empty(t, cfg.AccessToken, "bearer token stays in memory")
	assert.NotZero(t, cfg.ExpiresAt)

	r.Scrub()
	assert.True(t, r.NeedsReauth())
}

func TestRedditImportFollowsAfterCursor(t *testing.T) {
	var tokenCalls, listingCalls atomic.Int32
	listings := map[string][]map[string]any{
		"/user/spez/saved": {
			redditListingJSON("t3_c1", redditChild("t3", "t3_a", "golang", "https://go.dev/", false)),
			redditListingJSON("t3_c2", redditChild("t3", "t3_b", "news", "", true)),
			redditListingJSON("", redditChild("t3", "t3_c", "AskHistorians", "https://example.org/c", false)),
		},
		// upvoted missing: served as 403
	}
	srv := newRedditServer(t, listings, &tokenCalls, &listingCalls)
	defer srv.Close()
	r := newTestReddit(t, srv)

	ok, err := r.Authenticate(context.Background(), Credentials{
		"clientId": "client", "clientSecret": "secret", "username": "spez", "password": "hunter2",
	})
	require.NoError(t, err)
	require.True(t, ok)

	res, err := r.Import(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Imported)
	assert.Equal(t, int32(4), listingCalls.Load(), "three saved pages and one failed upvoted call")

	require.Len(t, res.Data, 3)
	assert.Equal(t, "https://go.dev/", res.Data[0].URL)
	assert.Equal(t, "Programming", res.Data[0].Category)
	assert.Equal(t, []string{"reddit", "golang"}, res.Data[0].Tags)

	assert.Equal(t, "https://www.reddit.com/r/news/comments/t3_b/post/", res.Data[1].URL, "self post uses permalink")
	assert.Equal(t, "News", res.Data[1].Category)
	assert.Equal(t, "Education", res.Data[2].Category)
}

func TestRedditRepeatedAfterCursorStops(t *testing.T) {
	var tokenCalls, listingCalls atomic.Int32
	listings := map[string][]map[string]any{
		"/user/spez/saved": {
			redditListingJSON("t3_c1", redditChild("t3", "t3_a", "golang", "https://go.dev/", false)),
			redditListingJSON("t3_c1", redditChild("t3", "t3_b", "golang", "https://go.dev/doc/", false)),
		},
	}
	srv := newRedditServer(t, listings, &tokenCalls, &listingCalls)
	defer srv.Close()
	r := newTestReddit(t, srv)

	ok, err := r.Authenticate(context.Background(), Credentials{
		"clientId": "client", "clientSecret": "secret", "username": "spez", "password": "hunter2",
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.Import(context.Background())
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Equal(t, int32(2), listingCalls.Load())
}

func TestRedditImportWithoutTokenNeedsReauth(t *testing.T) {
	r := NewRedditIntegration()
	r.UpdateConfig(ConfigUpdate{Settings: map[string]any{"username": "spez", "clientId": "client"}})

	_, err := r.Import(context.Background())
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestConvertRedditItem(t *testing.T) {
	long := strings.Repeat("x", 600)
	b, err := convertRedditItem(redditItem{
		Name:        "t3_z",
		Title:       "Self post",
		SelfText:    long,
		Permalink:   "/r/funny/comments/z/",
		Subreddit:   "funny",
		Author:      "someone",
		Score:       5,
		NumComments: 2,
		IsSelf:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://www.reddit.com/r/funny/comments/z/", b.URL)
	assert.Equal(t, "Entertainment", b.Category)
	assert.True(t, strings.HasPrefix(b.Description, strings.Repeat("x", 500)+"..."))
	assert.Contains(t, b.Description, "Subreddit: r/funny\nAuthor: u/someone\nScore: 5\nComments: 2")

	b, err = convertRedditItem(redditItem{Name: "t3_y", URL: "https://a.example", Subreddit: "obscure"})
	require.NoError(t, err)
	assert.Equal(t, "Social Media", b.Category)

	_, err = convertRedditItem(redditItem{Name: "t3_x"})
	assert.Error(t, err)
}

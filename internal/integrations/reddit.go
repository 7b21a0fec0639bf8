package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
)

const (
	RedditID              = "reddit"
	redditDefaultBaseURL  = "https://oauth.reddit.com"
	redditDefaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	redditPageSize        = 100
	redditSelfTextLimit   = 500
)

// redditCategories maps lowercased subreddit names onto bookmark categories.
var redditCategories = map[string]string{
	"programming":       "Programming",
	"golang":            "Programming",
	"python":            "Programming",
	"javascript":        "Programming",
	"rust":              "Programming",
	"webdev":            "Programming",
	"learnprogramming":  "Programming",
	"compsci":           "Programming",
	"devops":            "Programming",
	"news":              "News",
	"worldnews":         "News",
	"technology":        "News",
	"politics":          "News",
	"science":           "News",
	"movies":            "Entertainment",
	"music":             "Entertainment",
	"gaming":            "Entertainment",
	"television":        "Entertainment",
	"funny":             "Entertainment",
	"books":             "Entertainment",
	"todayilearned":     "Education",
	"explainlikeimfive": "Education",
	"askscience":        "Education",
	"askhistorians":     "Education",
	"history":           "Education",
	"business":          "Business",
	"entrepreneur":      "Business",
	"startups":          "Business",
	"investing":         "Business",
	"personalfinance":   "Business",
}

// RedditIntegration imports saved and upvoted posts. The bearer token lives
// only in memory, so a new process always has to authenticate again.
type RedditIntegration struct {
	Base
	client   *providerClient
	tokenURL string
	logger   arbor.ILogger

	tokenMu sync.RWMutex
	token   *oauth2.Token
}

func NewRedditIntegration(opts ...Option) *RedditIntegration {
	o := buildOptions(redditDefaultBaseURL, opts)
	tokenURL := o.authURL
	if tokenURL == "" {
		tokenURL = redditDefaultTokenURL
	}
	r := &RedditIntegration{
		client:   newProviderClient(RedditID, o),
		tokenURL: tokenURL,
		logger:   o.logger,
	}
	r.Init(RedditID, "Reddit", TypeSocial)
	return r
}

func (r *RedditIntegration) IsConfigured() bool {
	return r.settingString("username") != "" && r.settingString("clientId") != ""
}

// NeedsReauth checks the in-memory token, not the persisted expiry.
func (r *RedditIntegration) NeedsReauth() bool {
	r.tokenMu.RLock()
	defer r.tokenMu.RUnlock()
	if r.token == nil || r.token.AccessToken == "" {
		return true
	}
	return !r.token.Expiry.IsZero() && !time.Now().Before(r.token.Expiry)
}

// Authenticate exchanges username and password for a bearer token using the
// password grant. The password is not kept.
func (r *RedditIntegration) Authenticate(ctx context.Context, creds Credentials) (bool, error) {
	clientID, clientSecret := creds["clientId"], creds["clientSecret"]
	username, password := creds["username"], creds["password"]
	if clientID == "" || clientSecret == "" || username == "" || password == "" {
		r.logger.Warn().Msg("Reddit authentication requires clientId, clientSecret, username and password")
		return false, nil
	}
	if _, err := r.client.guard.Check(r.tokenURL); err != nil {
		return false, err
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		Scopes: []string{"identity", "history", "read"},
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, r.client.http)
	tok, err := cfg.PasswordCredentialsToken(tokenCtx, username, password)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return false, fmt.Errorf("reddit token request failed: %w", err)
		}
		r.logger.Warn().Err(err).Msg("Reddit rejected credentials")
		return false, nil
	}

	r.tokenMu.Lock()
	r.token = tok
	r.tokenMu.Unlock()

	var expiresAt int64
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry.UnixMilli()
	}
	r.UpdateConfig(ConfigUpdate{
		ExpiresAt: int64Ptr(expiresAt),
		Settings: map[string]any{
			"username": username,
			"clientId": clientID,
		},
	})
	r.logger.Info().Str("username", username).Msg("Reddit authenticated")
	return true, nil
}

// Scrub also drops the in-memory token.
func (r *RedditIntegration) Scrub() {
	r.Base.Scrub()
	r.tokenMu.Lock()
	r.token = nil
	r.tokenMu.Unlock()
}

func (r *RedditIntegration) currentToken() *oauth2.Token {
	r.tokenMu.RLock()
	defer r.tokenMu.RUnlock()
	return r.token
}

type redditListing struct {
	Kind string `json:"kind"`
	Data struct {
		After    *string `json:"after"`
		Children []struct {
			Kind string     `json:"kind"`
			Data redditItem `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	LinkTitle   string  `json:"link_title"`
	SelfText    string  `json:"selftext"`
	Body        string  `json:"body"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	IsSelf      bool    `json:"is_self"`
	kind        string
	list        string
}

// Import fetches saved and upvoted posts. Upvoted failures are tolerated
// since many accounts hide that listing.
func (r *RedditIntegration) Import(ctx context.Context) (*ImportResult, error) {
	username := r.settingString("username")
	if username == "" {
		return nil, policyError(ErrUnconfigured, RedditID)
	}
	tok := r.currentToken()
	if tok == nil {
		return nil, policyError(ErrReauthRequired, RedditID)
	}

	saved, err := r.fetchListing(ctx, tok, fmt.Sprintf("/user/%s/saved", url.PathEscape(username)), "saved")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reddit saved items: %w", err)
	}
	upvoted, err := r.fetchListing(ctx, tok, fmt.Sprintf("/user/%s/upvoted", url.PathEscape(username)), "upvoted")
	if err != nil {
		r.logger.Warn().Err(err).Msg("Upvoted listing unavailable, continuing with saved items")
		upvoted = nil
	}

	result := &ImportResult{Errors: []string{}}
	seen := make(map[string]bool)
	for _, item := range append(saved, upvoted...) {
		if item.Name != "" && seen[item.Name] {
			continue
		}
		seen[item.Name] = true

		b, err := convertRedditItem(item)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Data = append(result.Data, b)
		result.Imported++
	}

	r.logger.Info().Int("saved", len(saved)).Int("upvoted", len(upvoted)).Int("imported", result.Imported).Msg("Reddit import finished")
	return result.Finalize(), nil
}

func (r *RedditIntegration) Sync(ctx context.Context) (*SyncResult, error) {
	res, err := r.Import(ctx)
	if err != nil {
		return nil, err
	}
	return syncFromImport(res), nil
}

// fetchListing walks a listing with the after cursor until it is null.
func (r *RedditIntegration) fetchListing(ctx context.Context, tok *oauth2.Token, endpoint, list string) ([]redditItem, error) {
	var items []redditItem
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(redditPageSize))
		q.Set("raw_json", "1")
		if after != "" {
			q.Set("after", after)
		}

		var listing redditListing
		if err := r.client.do(ctx, request{
			method:   http.MethodGet,
			endpoint: endpoint,
			query:    q,
			authorize: func(req *http.Request) error {
				tok.SetAuthHeader(req)
				return nil
			},
		}, &listing); err != nil {
			return nil, err
		}

		for _, child := range listing.Data.Children {
			item := child.Data
			item.kind = child.Kind
			item.list = list
			items = append(items, item)
		}

		if listing.Data.After == nil || *listing.Data.After == "" {
			return items, nil
		}
		if *listing.Data.After == after {
			return nil, repeatedCursor(r.client.provider, endpoint, after)
		}
		after = *listing.Data.After
	}
}

func convertRedditItem(item redditItem) (BookmarkData, error) {
	if item.Permalink == "" && item.URL == "" {
		return BookmarkData{}, fmt.Errorf("reddit item %s has no url", item.Name)
	}
	permalink := ""
	if item.Permalink != "" {
		permalink = "https://www.reddit.com" + item.Permalink
	}

	title := item.Title
	text := item.SelfText
	link := item.URL
	if item.kind == "t1" {
		// saved comment
		title = item.LinkTitle
		text = item.Body
		link = ""
	}

	primary := link
	if item.IsSelf || primary == "" {
		primary = permalink
	}
	if primary == "" {
		return BookmarkData{}, fmt.Errorf("reddit item %s has no url", item.Name)
	}

	var desc strings.Builder
	if text = strings.TrimSpace(text); text != "" {
		desc.WriteString(truncate(text, redditSelfTextLimit))
		desc.WriteString("\n\n")
	}
	fmt.Fprintf(&desc, "Subreddit: r/%s\nAuthor: u/%s\nScore: %d\nComments: %d",
		item.Subreddit, item.Author, item.Score, item.NumComments)

	var created *time.Time
	if item.CreatedUTC > 0 {
		ts := time.Unix(int64(item.CreatedUTC), 0).UTC()
		created = &ts
	}

	tags := []string{"reddit"}
	if item.Subreddit != "" {
		tags = append(tags, strings.ToLower(item.Subreddit))
	}

	return BookmarkData{
		URL:         primary,
		Title:       nonEmpty(title, primary),
		Description: desc.String(),
		Tags:        tags,
		Category:    redditCategory(item.Subreddit),
		CreatedAt:   created,
		Source:      RedditID,
		SourceID:    nonEmpty(item.Name, item.ID),
		Metadata: map[string]any{
			"subreddit":   item.Subreddit,
			"author":      item.Author,
			"score":       item.Score,
			"numComments": item.NumComments,
			"permalink":   permalink,
			"list":        item.list,
		},
	}, nil
}

func redditCategory(subreddit string) string {
	if c, ok := redditCategories[strings.ToLower(subreddit)]; ok {
		return c
	}
	return "Social Media"
}

var (
	_ Integration = (*RedditIntegration)(nil)
	_ Syncer      = (*RedditIntegration)(nil)
)

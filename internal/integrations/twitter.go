package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	TwitterID             = "twitter"
	twitterDefaultBaseURL = "https://api.twitter.com"
	twitterPageSize       = 100
)

// TwitterIntegration imports bookmarked and liked tweets through the v2 API
// using OAuth 1.0a user context signing.
type TwitterIntegration struct {
	Base
	client *providerClient
	logger arbor.ILogger
	now    func() time.Time
}

func NewTwitterIntegration(opts ...Option) *TwitterIntegration {
	o := buildOptions(twitterDefaultBaseURL, opts)
	t := &TwitterIntegration{
		client: newProviderClient(TwitterID, o),
		logger: o.logger,
		now:    time.Now,
	}
	t.Init(TwitterID, "Twitter / X", TypeSocial)
	return t
}

type twitterUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type twitterTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	AuthorID      string `json:"author_id"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics *struct {
		RetweetCount int `json:"retweet_count"`
		ReplyCount   int `json:"reply_count"`
		LikeCount    int `json:"like_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
	Entities *struct {
		URLs []struct {
			URL         string `json:"url"`
			ExpandedURL string `json:"expanded_url"`
			DisplayURL  string `json:"display_url"`
		} `json:"urls"`
		Hashtags []struct {
			Tag string `json:"tag"`
		} `json:"hashtags"`
	} `json:"entities"`
}

type twitterTimelinePage struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Users []twitterUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

// twitterItem is a tweet with its author resolved from includes.users.
type twitterItem struct {
	tweet  twitterTweet
	author twitterUser
	list   string
}

func (t *TwitterIntegration) credentials() oauth1Credentials {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.config.Settings
	str := func(k string) string {
		v, _ := s[k].(string)
		return v
	}
	return oauth1Credentials{
		ConsumerKey:       t.config.APIKey,
		ConsumerSecret:    str("consumerSecret"),
		AccessToken:       t.config.AccessToken,
		AccessTokenSecret: str("accessTokenSecret"),
	}
}

func (t *TwitterIntegration) IsConfigured() bool {
	return t.credentials().complete() && t.settingString("userId") != ""
}

// Authenticate verifies the OAuth 1.0a tuple against users/me and keeps
// all four values on success.
func (t *TwitterIntegration) Authenticate(ctx context.Context, creds Credentials) (bool, error) {
	c := oauth1Credentials{
		ConsumerKey:       creds["consumerKey"],
		ConsumerSecret:    creds["consumerSecret"],
		AccessToken:       creds["accessToken"],
		AccessTokenSecret: creds["accessTokenSecret"],
	}
	if !c.complete() {
		t.logger.Warn().Msg("Twitter authentication requires consumerKey, consumerSecret, accessToken and accessTokenSecret")
		return false, nil
	}

	var me struct {
		Data twitterUser `json:"data"`
	}
	err := t.client.do(ctx, request{
		method:    http.MethodGet,
		endpoint:  "/2/users/me",
		authorize: t.signer(c).Sign,
	}, &me)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && (pe.StatusCode == http.StatusUnauthorized || pe.StatusCode == http.StatusForbidden) {
			t.logger.Warn().Int("status", pe.StatusCode).Msg("Twitter rejected credentials")
			return false, nil
		}
		return false, err
	}
	if me.Data.ID == "" {
		return false, nil
	}

	t.UpdateConfig(ConfigUpdate{
		APIKey:      strPtr(c.ConsumerKey),
		AccessToken: strPtr(c.AccessToken),
		Settings: map[string]any{
			"consumerSecret":    c.ConsumerSecret,
			"accessTokenSecret": c.AccessTokenSecret,
			"userId":            me.Data.ID,
			"username":          me.Data.Username,
		},
	})
	t.logger.Info().Str("username", me.Data.Username).Msg("Twitter authenticated")
	return true, nil
}

func (t *TwitterIntegration) signer(c oauth1Credentials) *oauth1Signer {
	s := newOAuth1Signer(c)
	s.now = t.now
	return s
}

// Import pulls bookmarks and liked tweets. Bookmark failures abort the
// import; likes are best effort.
func (t *TwitterIntegration) Import(ctx context.Context) (*ImportResult, error) {
	creds := t.credentials()
	userID := t.settingString("userId")
	if !creds.complete() || userID == "" {
		return nil, policyError(ErrUnconfigured, TwitterID)
	}
	signer := t.signer(creds)

	bookmarks, err := t.fetchTimeline(ctx, signer, fmt.Sprintf("/2/users/%s/bookmarks", url.PathEscape(userID)), "bookmark")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch twitter bookmarks: %w", err)
	}

	likes, err := t.fetchTimeline(ctx, signer, fmt.Sprintf("/2/users/%s/liked_tweets", url.PathEscape(userID)), "like")
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to fetch liked tweets, continuing with bookmarks only")
		likes = nil
	}

	result := &ImportResult{Errors: []string{}}
	seen := make(map[string]bool, len(bookmarks)+len(likes))
	for _, item := range append(bookmarks, likes...) {
		if seen[item.tweet.ID] && item.tweet.ID != "" {
			continue
		}
		seen[item.tweet.ID] = true

		b, err := convertTweet(item)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Data = append(result.Data, b)
		result.Imported++
	}

	t.logger.Info().Int("bookmarks", len(bookmarks)).Int("likes", len(likes)).Int("imported", result.Imported).Msg("Twitter import finished")
	return result.Finalize(), nil
}

func (t *TwitterIntegration) Sync(ctx context.Context) (*SyncResult, error) {
	r, err := t.Import(ctx)
	if err != nil {
		return nil, err
	}
	return syncFromImport(r), nil
}

// fetchTimeline follows meta.next_token until the provider stops returning one.
func (t *TwitterIntegration) fetchTimeline(ctx context.Context, signer *oauth1Signer, endpoint, list string) ([]twitterItem, error) {
	var items []twitterItem
	token := ""
	for {
		q := url.Values{}
		q.Set("max_results", fmt.Sprint(twitterPageSize))
		q.Set("expansions", "author_id")
		q.Set("tweet.fields", "created_at,public_metrics,entities")
		q.Set("user.fields", "username,name")
		if token != "" {
			q.Set("pagination_token", token)
		}

		var page twitterTimelinePage
		if err := t.client.do(ctx, request{
			method:    http.MethodGet,
			endpoint:  endpoint,
			query:     q,
			authorize: signer.Sign,
		}, &page); err != nil {
			return nil, err
		}

		users := make(map[string]twitterUser, len(page.Includes.Users))
		for _, u := range page.Includes.Users {
			users[u.ID] = u
		}
		for _, tw := range page.Data {
			items = append(items, twitterItem{tweet: tw, author: users[tw.AuthorID], list: list})
		}

		if page.Meta.NextToken == "" {
			return items, nil
		}
		if page.Meta.NextToken == token {
			return nil, repeatedCursor(t.client.provider, endpoint, token)
		}
		token = page.Meta.NextToken
	}
}

func convertTweet(item twitterItem) (BookmarkData, error) {
	tw := item.tweet
	if tw.ID == "" {
		return BookmarkData{}, fmt.Errorf("tweet without id skipped")
	}

	username := item.author.Username
	if username == "" {
		username = "i/web"
	}
	permalink := fmt.Sprintf("https://x.com/%s/status/%s", username, tw.ID)

	primary := permalink
	var tags []string
	if tw.Entities != nil {
		for _, u := range tw.Entities.URLs {
			if u.ExpandedURL != "" && !isTwitterURL(u.ExpandedURL) {
				primary = u.ExpandedURL
				break
			}
		}
		for _, h := range tw.Entities.Hashtags {
			if h.Tag != "" {
				tags = append(tags, strings.ToLower(h.Tag))
			}
		}
	}
	if len(tags) == 0 {
		tags = []string{"twitter"}
	}

	description := tw.Text
	metadata := map[string]any{
		"tweetId":        tw.ID,
		"tweetUrl":       permalink,
		"authorUsername": item.author.Username,
		"authorName":     item.author.Name,
		"list":           item.list,
	}
	if m := tw.PublicMetrics; m != nil {
		description = fmt.Sprintf("%s\n\n%d likes · %d retweets · %d replies · %d quotes",
			tw.Text, m.LikeCount, m.RetweetCount, m.ReplyCount, m.QuoteCount)
		metadata["likes"] = m.LikeCount
		metadata["retweets"] = m.RetweetCount
		metadata["replies"] = m.ReplyCount
		metadata["quotes"] = m.QuoteCount
	}

	var created *time.Time
	if tw.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, tw.CreatedAt); err == nil {
			created = &ts
		}
	}

	title := truncate(strings.TrimSpace(tw.Text), 100)
	if item.author.Username != "" {
		title = fmt.Sprintf("@%s: %s", item.author.Username, title)
	}

	return BookmarkData{
		URL:         primary,
		Title:       title,
		Description: description,
		Tags:        tags,
		Category:    "Social Media",
		CreatedAt:   created,
		Source:      TwitterID,
		SourceID:    tw.ID,
		Metadata:    metadata,
	}, nil
}

func isTwitterURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == "twitter.com" || host == "x.com" || host == "t.co" || strings.HasSuffix(host, ".twitter.com")
}

var (
	_ Integration = (*TwitterIntegration)(nil)
	_ Syncer      = (*TwitterIntegration)(nil)
)

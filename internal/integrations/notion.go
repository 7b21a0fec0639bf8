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
	"golang.org/x/oauth2"
)

const (
	NotionID              = "notion"
	notionDefaultBaseURL  = "https://api.notion.com"
	notionAPIVersion      = "2022-06-28"
	notionPageSize        = 100
	notionRichTextLimit   = 2000
	notionDefaultCategory = "General"
)

var (
	notionURLAliases         = []string{"URL", "Link", "url"}
	notionTitleAliases       = []string{"Name", "Title", "name"}
	notionTagAliases         = []string{"Tags", "tags"}
	notionCategoryAliases    = []string{"Category", "category"}
	notionDescriptionAliases = []string{"Description", "description", "Notes"}
)

// NotionIntegration reads bookmarks from a Notion database and writes them
// back as one page per bookmark.
type NotionIntegration struct {
	Base
	client *providerClient
	logger arbor.ILogger
}

func NewNotionIntegration(opts ...Option) *NotionIntegration {
	o := buildOptions(notionDefaultBaseURL, opts)
	n := &NotionIntegration{
		client: newProviderClient(NotionID, o),
		logger: o.logger,
	}
	n.Init(NotionID, "Notion", TypeSync)
	return n
}

func (n *NotionIntegration) IsConfigured() bool {
	return n.accessToken() != "" && n.settingString("databaseId") != ""
}

type notionText struct {
	PlainText string `json:"plain_text"`
}

type notionProperty struct {
	Type        string       `json:"type"`
	Title       []notionText `json:"title,omitempty"`
	RichText    []notionText `json:"rich_text,omitempty"`
	URL         *string      `json:"url,omitempty"`
	MultiSelect []struct {
		Name string `json:"name"`
	} `json:"multi_select,omitempty"`
	Select *struct {
		Name string `json:"name"`
	} `json:"select,omitempty"`
	Date *struct {
		Start string `json:"start"`
	} `json:"date,omitempty"`
}

type notionPage struct {
	ID             string                    `json:"id"`
	URL            string                    `json:"url"`
	CreatedTime    string                    `json:"created_time"`
	LastEditedTime string                    `json:"last_edited_time"`
	Archived       bool                      `json:"archived"`
	Properties     map[string]notionProperty `json:"properties"`
}

type notionDatabase struct {
	ID         string                    `json:"id"`
	Title      []notionText              `json:"title"`
	Properties map[string]notionProperty `json:"properties"`
}

type notionQueryResponse struct {
	Results    []notionPage `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor *string      `json:"next_cursor"`
}

func (n *NotionIntegration) call(ctx context.Context, token, method, endpoint string, body, out any) error {
	bearer := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	return n.client.do(ctx, request{
		method:   method,
		endpoint: endpoint,
		body:     body,
		headers:  map[string]string{"Notion-Version": notionAPIVersion},
		authorize: func(req *http.Request) error {
			bearer.SetAuthHeader(req)
			return nil
		},
	}, out)
}

// Authenticate fetches the target database and keeps the token, the
// database id and a snapshot of the property schema.
func (n *NotionIntegration) Authenticate(ctx context.Context, creds Credentials) (bool, error) {
	token, databaseID := creds["accessToken"], creds["databaseId"]
	if token == "" || databaseID == "" {
		n.logger.Warn().Msg("Notion authentication requires accessToken and databaseId")
		return false, nil
	}

	var db notionDatabase
	if err := n.call(ctx, token, http.MethodGet, "/v1/databases/"+url.PathEscape(databaseID), nil, &db); err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && (pe.StatusCode == http.StatusUnauthorized || pe.StatusCode == http.StatusForbidden || pe.StatusCode == http.StatusNotFound) {
			n.logger.Warn().Int("status", pe.StatusCode).Msg("Notion rejected credentials or database")
			return false, nil
		}
		return false, err
	}

	schema := make(map[string]any, len(db.Properties))
	for name, prop := range db.Properties {
		schema[name] = prop.Type
	}
	n.UpdateConfig(ConfigUpdate{
		AccessToken: strPtr(token),
		Settings: map[string]any{
			"databaseId":    databaseID,
			"databaseTitle": plainText(db.Title),
			"properties":    schema,
		},
	})
	n.logger.Info().Str("database_id", databaseID).Int("properties", len(schema)).Msg("Notion authenticated")
	return true, nil
}

// schema returns the stored property name -> type snapshot.
func (n *NotionIntegration) schema() map[string]string {
	var schema map[string]string
	if ok, err := n.decodeSetting("properties", &schema); !ok || err != nil {
		return nil
	}
	return schema
}

func (n *NotionIntegration) Import(ctx context.Context) (*ImportResult, error) {
	token, databaseID := n.accessToken(), n.settingString("databaseId")
	if token == "" || databaseID == "" {
		return nil, policyError(ErrUnconfigured, NotionID)
	}

	pages, err := n.queryDatabase(ctx, token, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notion database: %w", err)
	}

	result := &ImportResult{Errors: []string{}}
	for _, page := range pages {
		if page.Archived {
			continue
		}
		b, ok := convertNotionPage(page)
		if !ok {
			n.logger.Warn().Str("page_id", page.ID).Msg("Notion page has no URL property, skipping")
			continue
		}
		result.Data = append(result.Data, b)
		result.Imported++
	}

	n.logger.Info().Int("pages", len(pages)).Int("imported", result.Imported).Msg("Notion import finished")
	return result.Finalize(), nil
}

// queryDatabase pages through the database using start_cursor until
// has_more is false.
func (n *NotionIntegration) queryDatabase(ctx context.Context, token, databaseID string) ([]notionPage, error) {
	var pages []notionPage
	cursor := ""
	for {
		body := map[string]any{"page_size": notionPageSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var resp notionQueryResponse
		if err := n.call(ctx, token, http.MethodPost, "/v1/databases/"+url.PathEscape(databaseID)+"/query", body, &resp); err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)

		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return pages, nil
		}
		if *resp.NextCursor == cursor {
			return nil, repeatedCursor(n.client.provider, "/v1/databases/"+databaseID+"/query", cursor)
		}
		cursor = *resp.NextCursor
	}
}

func convertNotionPage(page notionPage) (BookmarkData, bool) {
	link := lookupText(page.Properties, notionURLAliases)
	if link == "" {
		return BookmarkData{}, false
	}

	tags := lookupMultiSelect(page.Properties, notionTagAliases)
	if len(tags) == 0 {
		tags = []string{"notion"}
	}
	category := lookupText(page.Properties, notionCategoryAliases)
	if category == "" {
		category = notionDefaultCategory
	}

	var created, updated *time.Time
	if ts, err := time.Parse(time.RFC3339, page.CreatedTime); err == nil {
		created = &ts
	}
	if ts, err := time.Parse(time.RFC3339, page.LastEditedTime); err == nil {
		updated = &ts
	}

	return BookmarkData{
		URL:         link,
		Title:       nonEmpty(lookupText(page.Properties, notionTitleAliases), link),
		Description: lookupText(page.Properties, notionDescriptionAliases),
		Tags:        tags,
		Category:    category,
		CreatedAt:   created,
		UpdatedAt:   updated,
		Source:      NotionID,
		SourceID:    page.ID,
		Metadata: map[string]any{
			"notionPageId":  page.ID,
			"notionPageUrl": page.URL,
		},
	}, true
}

// lookupText returns the value of the first alias that carries text.
func lookupText(props map[string]notionProperty, aliases []string) string {
	for _, name := range aliases {
		prop, ok := props[name]
		if !ok {
			continue
		}
		if v := propertyText(prop); v != "" {
			return v
		}
	}
	return ""
}

func lookupMultiSelect(props map[string]notionProperty, aliases []string) []string {
	for _, name := range aliases {
		prop, ok := props[name]
		if !ok {
			continue
		}
		var out []string
		for _, opt := range prop.MultiSelect {
			if opt.Name != "" {
				out = append(out, opt.Name)
			}
		}
		if prop.Select != nil && prop.Select.Name != "" {
			out = append(out, prop.Select.Name)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func propertyText(prop notionProperty) string {
	switch {
	case prop.URL != nil && *prop.URL != "":
		return *prop.URL
	case len(prop.Title) > 0:
		return plainText(prop.Title)
	case len(prop.RichText) > 0:
		return plainText(prop.RichText)
	case prop.Select != nil:
		return prop.Select.Name
	}
	return ""
}

func plainText(parts []notionText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return strings.TrimSpace(b.String())
}

// Export creates one page per bookmark; Notion has no bulk insert.
func (n *NotionIntegration) Export(ctx context.Context, bookmarks []BookmarkData) (*ExportResult, error) {
	token, databaseID := n.accessToken(), n.settingString("databaseId")
	if token == "" || databaseID == "" {
		return nil, policyError(ErrUnconfigured, NotionID)
	}
	schema := n.schema()

	result := &ExportResult{Errors: []string{}}
	for _, b := range bookmarks {
		if err := validateBookmark(b); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		page := map[string]any{
			"parent":     map[string]any{"database_id": databaseID},
			"properties": notionProperties(b, schema),
		}
		if err := n.call(ctx, token, http.MethodPost, "/v1/pages", page, nil); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", b.URL, err))
			n.logger.Warn().Err(err).Str("url", b.URL).Msg("Failed to create Notion page")
			continue
		}
		result.Exported++
	}

	n.logger.Info().Int("exported", result.Exported).Int("failed", result.Failed).Msg("Notion export finished")
	return result.Finalize(), nil
}

func (n *NotionIntegration) Sync(ctx context.Context) (*SyncResult, error) {
	r, err := n.Import(ctx)
	if err != nil {
		return nil, err
	}
	return syncFromImport(r), nil
}

// notionProperties maps a bookmark onto Notion property values. With a
// schema snapshot only known properties are written; the title property is
// written under whatever name the database uses for it.
func notionProperties(b BookmarkData, schema map[string]string) map[string]any {
	titleName := "Name"
	for name, typ := range schema {
		if typ == "title" {
			titleName = name
			break
		}
	}

	richText := func(s string) []map[string]any {
		return []map[string]any{{"type": "text", "text": map[string]any{"content": clip(s, notionRichTextLimit)}}}
	}

	props := map[string]any{
		titleName: map[string]any{"title": richText(nonEmpty(b.Title, b.URL))},
		"URL":     map[string]any{"url": b.URL},
	}
	if b.Description != "" {
		props["Description"] = map[string]any{"rich_text": richText(b.Description)}
	}
	if len(b.Tags) > 0 {
		opts := make([]map[string]any, 0, len(b.Tags))
		for _, t := range b.Tags {
			opts = append(opts, map[string]any{"name": strings.ReplaceAll(t, ",", " ")})
		}
		props["Tags"] = map[string]any{"multi_select": opts}
	}
	if b.Category != "" {
		props["Category"] = map[string]any{"select": map[string]any{"name": strings.ReplaceAll(b.Category, ",", " ")}}
	}
	if b.CreatedAt != nil {
		props["Created"] = map[string]any{"date": map[string]any{"start": b.CreatedAt.Format(time.RFC3339)}}
	}

	if len(schema) == 0 {
		return props
	}
	for name := range props {
		if name == titleName {
			continue
		}
		if _, ok := schema[name]; !ok {
			delete(props, name)
		}
	}
	return props
}

var (
	_ Integration = (*NotionIntegration)(nil)
	_ Exporter    = (*NotionIntegration)(nil)
	_ Syncer      = (*NotionIntegration)(nil)
)

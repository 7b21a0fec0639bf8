package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	ChromeID = "chrome"

	ChromeMethodFile      = "file"
	ChromeMethodExtension = "extension"

	chromeDefaultCategory = "General"
)

// chromeEpochOffset is the distance in microseconds between 1601-01-01 UTC,
// the origin of Chrome's bookmark timestamps, and the Unix epoch.
const chromeEpochOffset = 11644473600 * 1000 * 1000

// chromeFolderCategories is checked in order; the first keyword found in the
// folder path decides the category.
var chromeFolderCategories = []struct {
	keywords []string
	category string
}{
	{[]string{"dev", "programming", "code", "coding", "github", "software"}, "Programming"},
	{[]string{"news", "article", "blog"}, "News"},
	{[]string{"video", "youtube", "music", "movie", "entertainment", "games"}, "Entertainment"},
	{[]string{"learn", "tutorial", "course", "education", "study", "research"}, "Education"},
	{[]string{"work", "business", "finance", "job", "career"}, "Business"},
	{[]string{"shop", "buy", "store"}, "Shopping"},
	{[]string{"social", "twitter", "reddit"}, "Social Media"},
}

// ChromeIntegration reads and writes Chrome bookmarks, either from an
// uploaded Bookmarks export or through the browser extension bridge.
type ChromeIntegration struct {
	Base
	bridge ExtensionBridge
	logger arbor.ILogger
}

func NewChromeIntegration(opts ...Option) *ChromeIntegration {
	o := buildOptions("", opts)
	c := &ChromeIntegration{
		bridge: o.bridge,
		logger: o.logger,
	}
	c.Init(ChromeID, "Chrome Bookmarks", TypeSync)
	return c
}

func (c *ChromeIntegration) method() string {
	return c.settingString("method")
}

func (c *ChromeIntegration) IsConfigured() bool {
	m := c.method()
	return m == ChromeMethodFile || m == ChromeMethodExtension
}

// Authenticate selects the bridge method. The file method accepts the
// export in fileData; the extension method records the extension id.
func (c *ChromeIntegration) Authenticate(ctx context.Context, creds Credentials) (bool, error) {
	switch creds["method"] {
	case ChromeMethodFile:
		if creds["fileData"] == "" {
			return c.settingString("fileData") != "", nil
		}
		if err := c.UploadFile([]byte(creds["fileData"]), creds["fileName"]); err != nil {
			c.logger.Warn().Err(err).Msg("Rejected Chrome bookmarks file")
			return false, nil
		}
		return true, nil
	case ChromeMethodExtension:
		if c.bridge == nil {
			c.logger.Warn().Msg("No browser extension bridge available")
			return false, nil
		}
		c.setSettings(map[string]any{
			"method":      ChromeMethodExtension,
			"extensionId": creds["extensionId"],
		})
		return true, nil
	default:
		c.logger.Warn().Str("method", creds["method"]).Msg("Chrome authentication requires method file or extension")
		return false, nil
	}
}

// UploadFile validates a Chrome Bookmarks export and stores it for import.
func (c *ChromeIntegration) UploadFile(data []byte, name string) error {
	var doc chromeExportFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return validationErrorf("malformed chrome bookmarks file: %v", err)
	}
	if doc.Roots.BookmarkBar == nil && doc.Roots.Other == nil && doc.Roots.Synced == nil {
		return validationErrorf("chrome bookmarks file has no roots")
	}
	c.setSettings(map[string]any{
		"method":     ChromeMethodFile,
		"fileData":   string(data),
		"fileName":   name,
		"uploadedAt": time.Now().UnixMilli(),
	})
	c.logger.Info().Str("file", name).Int("bytes", len(data)).Msg("Chrome bookmarks file uploaded")
	return nil
}

// chromeFileNode is a node of the Bookmarks file written by Chrome.
type chromeFileNode struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	URL          string            `json:"url,omitempty"`
	DateAdded    string            `json:"date_added,omitempty"`
	DateModified string            `json:"date_modified,omitempty"`
	Children     []*chromeFileNode `json:"children,omitempty"`
}

type chromeExportFile struct {
	Checksum string `json:"checksum,omitempty"`
	Roots    struct {
		BookmarkBar *chromeFileNode `json:"bookmark_bar"`
		Other       *chromeFileNode `json:"other"`
		Synced      *chromeFileNode `json:"synced"`
	} `json:"roots"`
	Version int `json:"version"`
}

// chromeTreeNode is the chrome.bookmarks.getTree() shape sent by the extension.
type chromeTreeNode struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	URL       string            `json:"url,omitempty"`
	DateAdded float64           `json:"dateAdded,omitempty"`
	Children  []*chromeTreeNode `json:"children,omitempty"`
}

// chromeEntry is the common form both shapes are walked in.
type chromeEntry struct {
	id       string
	name     string
	url      string
	added    time.Time
	children []chromeEntry
}

func fromFileNode(n *chromeFileNode) chromeEntry {
	e := chromeEntry{id: n.ID, name: n.Name, url: n.URL, added: parseChromeTime(n.DateAdded)}
	for _, child := range n.Children {
		if child != nil {
			e.children = append(e.children, fromFileNode(child))
		}
	}
	return e
}

func fromTreeNode(n *chromeTreeNode) chromeEntry {
	e := chromeEntry{id: n.ID, name: n.Title, url: n.URL}
	if n.DateAdded > 0 {
		e.added = time.UnixMilli(int64(n.DateAdded)).UTC()
	}
	for _, child := range n.Children {
		if child != nil {
			e.children = append(e.children, fromTreeNode(child))
		}
	}
	return e
}

func parseChromeTime(s string) time.Time {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil || us <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(us - chromeEpochOffset).UTC()
}

func formatChromeTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return strconv.FormatInt(t.UnixMicro()+chromeEpochOffset, 10)
}

func (c *ChromeIntegration) Import(ctx context.Context) (*ImportResult, error) {
	roots, err := c.loadRoots(ctx)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Errors: []string{}}
	for _, root := range roots {
		for _, child := range root.children {
			walkChrome(child, "", result)
		}
	}
	c.logger.Info().Str("method", c.method()).Int("imported", result.Imported).Msg("Chrome import finished")
	return result.Finalize(), nil
}

// loadRoots returns bookmark_bar, other and synced from the configured source.
func (c *ChromeIntegration) loadRoots(ctx context.Context) ([]chromeEntry, error) {
	switch c.method() {
	case ChromeMethodFile:
		data := c.settingString("fileData")
		if data == "" {
			return nil, validationErrorf("no chrome bookmarks file uploaded")
		}
		var doc chromeExportFile
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, validationErrorf("malformed chrome bookmarks file: %v", err)
		}
		var roots []chromeEntry
		for _, r := range []*chromeFileNode{doc.Roots.BookmarkBar, doc.Roots.Other, doc.Roots.Synced} {
			if r != nil {
				roots = append(roots, fromFileNode(r))
			}
		}
		return roots, nil

	case ChromeMethodExtension:
		if c.bridge == nil {
			return nil, ErrExtensionNotConnected
		}
		raw, err := c.bridge.Request(ctx, "getBookmarks", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bookmarks from extension: %w", err)
		}
		var tree []*chromeTreeNode
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, &ProviderError{Provider: ChromeID, Endpoint: "getBookmarks", Message: fmt.Sprintf("malformed response: %v", err)}
		}
		// getTree returns a single unnamed root whose children are the
		// bookmark bar, other and mobile folders.
		var roots []chromeEntry
		for _, top := range tree {
			if top == nil {
				continue
			}
			for _, r := range top.Children {
				if r != nil {
					roots = append(roots, fromTreeNode(r))
				}
			}
		}
		return roots, nil
	}
	return nil, policyError(ErrUnconfigured, ChromeID)
}

// walkChrome converts leaves and descends into folders, extending the
// slash-joined folder path.
func walkChrome(e chromeEntry, folderPath string, result *ImportResult) {
	if e.url != "" {
		if err := validateBookmark(BookmarkData{URL: e.url}); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			return
		}
		result.Data = append(result.Data, convertChromeBookmark(e, folderPath))
		result.Imported++
		return
	}
	path := e.name
	if folderPath != "" {
		path = folderPath + "/" + e.name
	}
	for _, child := range e.children {
		walkChrome(child, path, result)
	}
}

func convertChromeBookmark(e chromeEntry, folderPath string) BookmarkData {
	tags := []string{"chrome"}
	if t := folderTag(folderPath); t != "" {
		tags = append(tags, t)
	}
	return BookmarkData{
		URL:       e.url,
		Title:     nonEmpty(e.name, e.url),
		Tags:      tags,
		Category:  chromeCategory(folderPath),
		CreatedAt: timePtr(e.added),
		Source:    ChromeID,
		SourceID:  e.id,
		Metadata: map[string]any{
			"folderPath": folderPath,
		},
	}
}

// folderTag lowercases a folder path and joins its words with hyphens.
func folderTag(folderPath string) string {
	words := strings.FieldsFunc(strings.ToLower(folderPath), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	return strings.Join(words, "-")
}

func chromeCategory(folderPath string) string {
	lower := strings.ToLower(folderPath)
	for _, rule := range chromeFolderCategories {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return chromeDefaultCategory
}

// buildChromeExport groups bookmarks by category: General goes straight onto
// the bookmark bar, every other category becomes a folder under Other
// bookmarks. Ids are assigned sequentially.
func buildChromeExport(bookmarks []BookmarkData) *chromeExportFile {
	nextID := 0
	newID := func() string {
		nextID++
		return strconv.Itoa(nextID)
	}
	now := formatChromeTime(time.Now())

	bar := &chromeFileNode{ID: newID(), Name: "Bookmarks bar", Type: "folder", DateAdded: now}
	other := &chromeFileNode{ID: newID(), Name: "Other bookmarks", Type: "folder", DateAdded: now}
	synced := &chromeFileNode{ID: newID(), Name: "Mobile bookmarks", Type: "folder", DateAdded: now}

	groups := make(map[string][]BookmarkData)
	var categories []string
	for _, b := range bookmarks {
		cat := nonEmpty(b.Category, chromeDefaultCategory)
		if _, ok := groups[cat]; !ok && cat != chromeDefaultCategory {
			categories = append(categories, cat)
		}
		groups[cat] = append(groups[cat], b)
	}
	sort.Strings(categories)

	leaf := func(b BookmarkData) *chromeFileNode {
		added := time.Time{}
		if b.CreatedAt != nil {
			added = *b.CreatedAt
		}
		return &chromeFileNode{
			ID:        newID(),
			Name:      nonEmpty(b.Title, b.URL),
			Type:      "url",
			URL:       b.URL,
			DateAdded: formatChromeTime(added),
		}
	}

	for _, b := range groups[chromeDefaultCategory] {
		bar.Children = append(bar.Children, leaf(b))
	}
	for _, cat := range categories {
		folder := &chromeFileNode{ID: newID(), Name: cat, Type: "folder", DateAdded: now}
		for _, b := range groups[cat] {
			folder.Children = append(folder.Children, leaf(b))
		}
		other.Children = append(other.Children, folder)
	}

	doc := &chromeExportFile{Version: 1}
	doc.Roots.BookmarkBar = bar
	doc.Roots.Other = other
	doc.Roots.Synced = synced
	return doc
}

// Export writes bookmarks in Chrome's format. The file method stores the
// document in settings.exportData; the extension method hands it to the
// extension's importBookmarks action.
func (c *ChromeIntegration) Export(ctx context.Context, bookmarks []BookmarkData) (*ExportResult, error) {
	result := &ExportResult{Errors: []string{}}
	valid := make([]BookmarkData, 0, len(bookmarks))
	for _, b := range bookmarks {
		if err := validateBookmark(b); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		valid = append(valid, b)
	}
	doc := buildChromeExport(valid)

	switch c.method() {
	case ChromeMethodFile:
		data, err := json.MarshalIndent(doc, "", "   ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode chrome export: %w", err)
		}
		c.setSettings(map[string]any{
			"exportData": string(data),
			"exportedAt": time.Now().UnixMilli(),
		})
	case ChromeMethodExtension:
		if c.bridge == nil {
			return nil, ErrExtensionNotConnected
		}
		if _, err := c.bridge.Request(ctx, "importBookmarks", doc.Roots); err != nil {
			return nil, fmt.Errorf("extension import failed: %w", err)
		}
	default:
		return nil, policyError(ErrUnconfigured, ChromeID)
	}

	result.Exported = len(valid)
	c.logger.Info().Int("exported", result.Exported).Str("method", c.method()).Msg("Chrome export finished")
	return result.Finalize(), nil
}

// ExportData returns the last document produced by a file export.
func (c *ChromeIntegration) ExportData() string {
	return c.settingString("exportData")
}

func (c *ChromeIntegration) Sync(ctx context.Context) (*SyncResult, error) {
	r, err := c.Import(ctx)
	if err != nil {
		return nil, err
	}
	return syncFromImport(r), nil
}

var (
	_ Integration = (*ChromeIntegration)(nil)
	_ Exporter    = (*ChromeIntegration)(nil)
	_ Syncer      = (*ChromeIntegration)(nil)
)

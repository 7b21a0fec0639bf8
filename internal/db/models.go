package db

import (
	"time"

	"github.com/user/markhub/internal/integrations"
)

type Bookmark struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"` // twitter, reddit, notion, chrome, manual
	SourceID    string         `json:"source_id,omitempty"`
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags"`
	Category    string         `json:"category,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// FromBookmarkData converts a normalized integration bookmark for storage.
func FromBookmarkData(d integrations.BookmarkData) *Bookmark {
	b := &Bookmark{
		Source:      d.Source,
		SourceID:    d.SourceID,
		URL:         d.URL,
		Title:       d.Title,
		Description: d.Description,
		Tags:        d.Tags,
		Category:    d.Category,
		Metadata:    d.Metadata,
	}
	if d.CreatedAt != nil {
		b.CreatedAt = *d.CreatedAt
	}
	return b
}

// BookmarkData converts a stored bookmark back to the normalized shape.
func (b *Bookmark) BookmarkData() integrations.BookmarkData {
	d := integrations.BookmarkData{
		URL:         b.URL,
		Title:       b.Title,
		Description: b.Description,
		Tags:        b.Tags,
		Category:    b.Category,
		Source:      b.Source,
		SourceID:    b.SourceID,
		Metadata:    b.Metadata,
	}
	if !b.CreatedAt.IsZero() {
		created := b.CreatedAt
		d.CreatedAt = &created
	}
	if !b.UpdatedAt.IsZero() {
		updated := b.UpdatedAt
		d.UpdatedAt = &updated
	}
	return d
}

// SourceCount is the number of stored bookmarks per source.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

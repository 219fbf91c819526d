// Package search provides full-text search over the book catalog using Bleve.
package search

import (
	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/normalize"
)

// BookDocument is the indexed form of a book.
type BookDocument struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Genre         string  `json:"genre"`      // display form
	GenreSlug     string  `json:"genre_slug"` // exact-match filter
	Year          int     `json:"year"`
	AverageRating float64 `json:"average_rating"`
	CreatedAt     int64   `json:"created_at"` // Unix milliseconds
}

// NewBookDocument creates a search document from a book.
func NewBookDocument(b *domain.Book) *BookDocument {
	return &BookDocument{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Genre:         b.Genre,
		GenreSlug:     normalize.Slug(b.Genre),
		Year:          b.Year,
		AverageRating: b.AverageRating,
		CreatedAt:     b.CreatedAt.UnixMilli(),
	}
}

// ToMap converts the document to the field map Bleve indexes, so field names
// always match the mapping.
func (d *BookDocument) ToMap() map[string]any {
	return map[string]any{
		"id":             d.ID,
		"title":          d.Title,
		"author":         d.Author,
		"genre":          d.Genre,
		"genre_slug":     d.GenreSlug,
		"year":           float64(d.Year),
		"average_rating": d.AverageRating,
		"created_at":     float64(d.CreatedAt),
	}
}

// Package domain contains the core entities of the Grimoire book catalog.
package domain

// Rating is a single user's grade for a book. A book holds at most one per user.
type Rating struct {
	UserID string `json:"userId"`
	Grade  int    `json:"grade"`
}

// Book is a catalog entry submitted by a user.
//
// Ratings and AverageRating are maintained exclusively by the rating package;
// UserID is set at creation and never changes.
type Book struct {
	Record
	UserID        string   `json:"userId"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	ImageRef      string   `json:"imageRef"`
	ImageBlurHash string   `json:"imageBlurHash,omitempty"`
	Year          int      `json:"year"`
	Genre         string   `json:"genre"`
	Ratings       []Rating `json:"ratings"`
	AverageRating float64  `json:"averageRating"`
}

// HasRatings reports whether at least one user rated the book.
func (b *Book) HasRatings() bool {
	return len(b.Ratings) > 0
}

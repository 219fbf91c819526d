// Package rating maintains per-user book ratings and the derived average.
//
// Aggregator is the only code that writes Book.Ratings or Book.AverageRating.
// Callers hand it a loaded book, persist what it returns, and retry on store
// conflicts; the aggregator itself is pure and never blocks.
package rating

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/errors"
)

// Bounds is the inclusive grade range.
type Bounds struct {
	Min int
	Max int
}

// DefaultBounds is the 0 to 5 star scale.
func DefaultBounds() Bounds {
	return Bounds{Min: 0, Max: 5}
}

// Aggregator applies rating submissions to books.
type Aggregator struct {
	bounds Bounds
}

// NewAggregator creates an aggregator enforcing bounds.
func NewAggregator(bounds Bounds) *Aggregator {
	return &Aggregator{bounds: bounds}
}

// Validate checks that grade lies within the configured bounds.
func (a *Aggregator) Validate(grade int) error {
	if grade < a.bounds.Min || grade > a.bounds.Max {
		return errors.InvalidRatingf("rating must be between %d and %d", a.bounds.Min, a.bounds.Max)
	}
	return nil
}

// Submit records raterID's grade on book. An existing rating by the same user is
// replaced in place, so each user holds at most one entry. The average is
// recomputed before returning. book is mutated and returned.
func (a *Aggregator) Submit(book *domain.Book, raterID string, grade int) (*domain.Book, error) {
	if raterID == "" {
		return nil, errors.Validation("rater id is required")
	}
	if err := a.Validate(grade); err != nil {
		return nil, err
	}

	replaced := false
	for i := range book.Ratings {
		if book.Ratings[i].UserID == raterID {
			book.Ratings[i].Grade = grade
			replaced = true
			break
		}
	}
	if !replaced {
		book.Ratings = append(book.Ratings, domain.Rating{UserID: raterID, Grade: grade})
	}

	book.AverageRating = Average(book.Ratings)
	return book, nil
}

// Replace swaps book's rating set for ratings. Every grade is validated before
// anything changes; duplicate raters collapse to their last grade while keeping
// the position of their first entry.
func (a *Aggregator) Replace(book *domain.Book, ratings []domain.Rating) (*domain.Book, error) {
	for _, r := range ratings {
		if r.UserID == "" {
			return nil, errors.Validation("every rating needs a userId")
		}
		if err := a.Validate(r.Grade); err != nil {
			return nil, err
		}
	}

	deduped := make([]domain.Rating, 0, len(ratings))
	position := make(map[string]int, len(ratings))
	for _, r := range ratings {
		if i, ok := position[r.UserID]; ok {
			deduped[i].Grade = r.Grade
			continue
		}
		position[r.UserID] = len(deduped)
		deduped = append(deduped, r)
	}

	book.Ratings = deduped
	book.AverageRating = Average(book.Ratings)
	return book, nil
}

// Reset clears the ratings of a new book. Used before the first submission at creation.
func (a *Aggregator) Reset(book *domain.Book) *domain.Book {
	book.Ratings = []domain.Rating{}
	book.AverageRating = 0
	return book
}

// Average is the mean grade rounded half away from zero to one decimal, or 0 when empty.
func Average(ratings []domain.Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Grade
	}
	// Integer numerator keeps x.x5 cases exact: round(10*sum/n) / 10.
	return math.Round(float64(sum*10)/float64(len(ratings))) / 10
}

// ParseGrade decodes a JSON grade. Only numbers with an integral value are
// accepted; strings, booleans, null and fractions like 5.5 yield InvalidRating.
// Range is not checked here, see Aggregator.Validate.
func ParseGrade(raw json.RawMessage) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, errors.InvalidRating("rating must be a number")
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, errors.InvalidRating("rating must be a number")
	}

	f, err := strconv.ParseFloat(num.String(), 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, errors.InvalidRating("rating must be a number")
	}
	if f != math.Trunc(f) {
		return 0, errors.InvalidRating("rating must be a whole number")
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, errors.InvalidRating("rating out of range")
	}
	return int(f), nil
}

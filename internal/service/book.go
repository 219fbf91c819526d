package service

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/grimoireapp/grimoire-server/internal/auth"
	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/errors"
	"github.com/grimoireapp/grimoire-server/internal/id"
	"github.com/grimoireapp/grimoire-server/internal/metrics"
	"github.com/grimoireapp/grimoire-server/internal/normalize"
	"github.com/grimoireapp/grimoire-server/internal/policy"
	"github.com/grimoireapp/grimoire-server/internal/rating"
	"github.com/grimoireapp/grimoire-server/internal/search"
	"github.com/grimoireapp/grimoire-server/internal/validation"
)

// BestRatedLimit is the number of books returned by BestRated.
const BestRatedLimit = 3

// BookInput is the editable part of a book.
type BookInput struct {
	Title  string `json:"title" validate:"notblank,max=500"`
	Author string `json:"author" validate:"notblank,max=300"`
	Year   int    `json:"year" validate:"gte=0,notfuture"`
	Genre  string `json:"genre" validate:"notblank,max=100"`

	// InitialRating is the creator's own grade, applied at creation only.
	InitialRating *int `json:"-"`
}

// BookPatch is a partial update. Nil fields keep their stored value; a nil
// Ratings keeps the stored set and an empty slice clears it.
type BookPatch struct {
	Title   *string
	Author  *string
	Year    *int
	Genre   *string
	Ratings []domain.Rating
}

// over returns the editable fields of b with the patch applied.
func (p BookPatch) over(b *domain.Book) BookInput {
	in := BookInput{Title: b.Title, Author: b.Author, Year: b.Year, Genre: b.Genre}
	if p.Title != nil {
		in.Title = *p.Title
	}
	if p.Author != nil {
		in.Author = *p.Author
	}
	if p.Year != nil {
		in.Year = *p.Year
	}
	if p.Genre != nil {
		in.Genre = *p.Genre
	}
	in.normalize()
	return in
}

func (in *BookInput) normalize() {
	in.Title = normalize.Text(in.Title)
	in.Author = normalize.Text(in.Author)
	in.Genre = normalize.Text(in.Genre)
}

// BookService coordinates book creation, update, deletion and rating.
// It applies the ownership policy, routes every rating change through the
// aggregator and keeps cover blobs in step with the stored books.
type BookService struct {
	store      BookStore
	covers     CoverStore
	processor  CoverProcessor
	searcher   BookSearcher
	aggregator *rating.Aggregator
	validator  *validation.Validator
	metrics    metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// BookServiceOption configures a BookService.
type BookServiceOption func(*BookService)

// WithSearcher enables Search.
func WithSearcher(s BookSearcher) BookServiceOption {
	return func(b *BookService) { b.searcher = s }
}

// WithMetrics records rating outcomes and blob failures.
func WithMetrics(m metrics.Recorder) BookServiceOption {
	return func(b *BookService) { b.metrics = m }
}

// WithBookClock overrides the clock used for timestamps.
func WithBookClock(now func() time.Time) BookServiceOption {
	return func(b *BookService) { b.now = now }
}

// NewBookService creates a new book service.
func NewBookService(
	store BookStore,
	covers CoverStore,
	processor CoverProcessor,
	aggregator *rating.Aggregator,
	validator *validation.Validator,
	logger *slog.Logger,
	opts ...BookServiceOption,
) *BookService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &BookService{
		store:      store,
		covers:     covers,
		processor:  processor,
		aggregator: aggregator,
		validator:  validator,
		metrics:    metrics.Noop{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every book in storage order.
func (s *BookService) List(ctx context.Context) ([]*domain.Book, error) {
	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list books")
	}
	return books, nil
}

// Get returns a single book.
func (s *BookService) Get(ctx context.Context, bookID string) (*domain.Book, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, storeError(err, "failed to load book")
	}
	return book, nil
}

// BestRated returns up to BestRatedLimit rated books, highest average first.
// Equal averages keep their storage order.
func (s *BookService) BestRated(ctx context.Context) ([]*domain.Book, error) {
	books, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	rated := slices.DeleteFunc(books, func(b *domain.Book) bool { return !b.HasRatings() })
	slices.SortStableFunc(rated, func(a, b *domain.Book) int {
		return cmp.Compare(b.AverageRating, a.AverageRating)
	})
	return rated[:min(len(rated), BestRatedLimit)], nil
}

// Search returns the books matching query, best match first. Index hits whose
// book has since been deleted are skipped.
func (s *BookService) Search(ctx context.Context, query string, limit int) ([]*domain.Book, error) {
	if s.searcher == nil {
		return nil, errors.Internal("search is not available")
	}

	params := search.DefaultSearchParams()
	params.Query = normalize.Text(query)
	if limit > 0 {
		params.Limit = limit
	}

	result, err := s.searcher.Search(ctx, params)
	if err != nil {
		if ctxErr := errors.FromContext(err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "search failed")
	}

	books := make([]*domain.Book, 0, len(result.Hits))
	for _, bookID := range result.IDs() {
		book, err := s.store.GetBook(ctx, bookID)
		if err != nil {
			if errors.Is(storeError(err, ""), errors.ErrNotFound) {
				s.logger.Debug("search hit for missing book", "book_id", bookID)
				continue
			}
			return nil, storeError(err, "failed to load book")
		}
		books = append(books, book)
	}
	return books, nil
}

// Create validates input, stores the cover and persists the new book owned by
// the caller. The stored cover is removed again if persistence fails.
func (s *BookService) Create(ctx context.Context, identity auth.Identity, input BookInput, image []byte) (*domain.Book, error) {
	input.normalize()
	if err := s.validator.Validate(&input); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, errors.Validation("image is required")
	}

	bookID, err := id.Generate(id.PrefixBook)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to generate book id")
	}

	book := &domain.Book{
		Record: domain.Record{ID: bookID},
		UserID: identity.Subject,
		Title:  input.Title,
		Author: input.Author,
		Year:   input.Year,
		Genre:  input.Genre,
	}
	book.InitTimestamps(s.now())
	s.aggregator.Reset(book)

	if input.InitialRating != nil {
		if _, err := s.aggregator.Submit(book, identity.Subject, *input.InitialRating); err != nil {
			s.metrics.RecordRatingSubmission(metrics.OutcomeInvalid)
			return nil, err
		}
	}

	ref, blurHash, err := s.storeCover(ctx, image)
	if err != nil {
		return nil, err
	}
	book.ImageRef = ref
	book.ImageBlurHash = blurHash

	if err := s.store.CreateBook(ctx, book); err != nil {
		s.deleteCover(context.WithoutCancel(ctx), ref, bookID)
		return nil, storeError(err, "failed to create book")
	}
	if input.InitialRating != nil {
		s.metrics.RecordRatingSubmission(metrics.OutcomeAccepted)
	}

	s.logger.Info("book created",
		"book_id", book.ID,
		"user_id", identity.Subject,
	)
	return book, nil
}

// Update applies patch to a book the caller owns. Ownership is checked before
// the payload is validated. A non-nil image replaces the cover; the previous
// cover is deleted once the update has committed. The owner never changes.
func (s *BookService) Update(ctx context.Context, identity auth.Identity, bookID string, patch BookPatch, image []byte) (*domain.Book, error) {
	// Reject before touching blob storage.
	current, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, storeError(err, "failed to load book")
	}
	if err := policy.AuthorizeMutation(identity, current); err != nil {
		return nil, err
	}

	merged := patch.over(current)
	if err := s.validator.Validate(&merged); err != nil {
		return nil, err
	}
	for _, r := range patch.Ratings {
		if err := s.aggregator.Validate(r.Grade); err != nil {
			return nil, err
		}
	}

	var newRef, newBlurHash string
	if len(image) > 0 {
		newRef, newBlurHash, err = s.storeCover(ctx, image)
		if err != nil {
			return nil, err
		}
	}

	var oldRef string
	updated, err := s.store.ModifyBook(ctx, bookID, func(book *domain.Book) error {
		// Ownership is re-checked on every attempt against the fresh copy.
		if err := policy.AuthorizeMutation(identity, book); err != nil {
			return err
		}

		input := patch.over(book)
		book.Title = input.Title
		book.Author = input.Author
		book.Year = input.Year
		book.Genre = input.Genre

		if patch.Ratings != nil {
			if _, err := s.aggregator.Replace(book, patch.Ratings); err != nil {
				return err
			}
		}

		oldRef = ""
		if newRef != "" {
			oldRef = book.ImageRef
			book.ImageRef = newRef
			book.ImageBlurHash = newBlurHash
		}

		book.Touch(s.now())
		return nil
	})
	if err != nil {
		if newRef != "" {
			s.deleteCover(context.WithoutCancel(ctx), newRef, bookID)
		}
		return nil, storeError(err, "failed to update book")
	}

	if oldRef != "" && oldRef != newRef {
		s.deleteCover(ctx, oldRef, bookID)
	}

	s.logger.Info("book updated",
		"book_id", bookID,
		"user_id", identity.Subject,
		"cover_replaced", newRef != "",
	)
	return updated, nil
}

// Delete removes a book the caller owns together with its cover. The cover
// deletion is best-effort; the result reflects the record deletion only.
func (s *BookService) Delete(ctx context.Context, identity auth.Identity, bookID string) error {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return storeError(err, "failed to load book")
	}
	if err := policy.AuthorizeMutation(identity, book); err != nil {
		return err
	}

	if book.ImageRef != "" {
		s.deleteCover(ctx, book.ImageRef, bookID)
	}

	if err := s.store.DeleteBook(ctx, bookID); err != nil {
		return storeError(err, "failed to delete book")
	}

	s.logger.Info("book deleted",
		"book_id", bookID,
		"user_id", identity.Subject,
	)
	return nil
}

// Rate records the caller's grade for a book, replacing any earlier grade of
// theirs. Any authenticated user may rate, the owner included. Concurrent
// submissions are serialized by the store's optimistic retry.
func (s *BookService) Rate(ctx context.Context, identity auth.Identity, bookID string, grade int) (*domain.Book, error) {
	if err := s.aggregator.Validate(grade); err != nil {
		s.metrics.RecordRatingSubmission(metrics.OutcomeInvalid)
		return nil, err
	}

	book, err := s.store.ModifyBook(ctx, bookID, func(book *domain.Book) error {
		_, err := s.aggregator.Submit(book, identity.Subject, grade)
		return err
	})
	if err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, errors.ErrInvalidRating) {
			outcome = metrics.OutcomeInvalid
		}
		s.metrics.RecordRatingSubmission(outcome)
		return nil, storeError(err, "failed to save rating")
	}

	s.metrics.RecordRatingSubmission(metrics.OutcomeAccepted)
	s.logger.Debug("rating submitted",
		"book_id", bookID,
		"user_id", identity.Subject,
		"grade", grade,
		"average", book.AverageRating,
	)
	return book, nil
}

func (s *BookService) storeCover(ctx context.Context, data []byte) (ref, blurHash string, err error) {
	cover, err := s.processor.Process(data)
	if err != nil {
		return "", "", coverError(err)
	}
	ref, err = s.covers.Store(ctx, cover.Data)
	if err != nil {
		return "", "", coverError(err)
	}
	return ref, cover.BlurHash, nil
}

// deleteCover removes a cover blob. Failures are logged and counted, never returned.
// Rollbacks of a blob stored by the failed call pass a context without a deadline.
func (s *BookService) deleteCover(ctx context.Context, ref, bookID string) {
	if err := s.covers.Delete(ctx, ref); err != nil {
		s.metrics.RecordBlobDeleteFailure()
		s.logger.WarnContext(ctx, "failed to delete cover image",
			"book_id", bookID,
			"image_ref", ref,
			"error", err,
		)
	}
}

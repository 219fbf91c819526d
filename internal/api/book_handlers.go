package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	domainerrors "github.com/grimoireapp/grimoire-server/internal/errors"
	"github.com/grimoireapp/grimoire-server/internal/http/response"
	"github.com/grimoireapp/grimoire-server/internal/rating"
	"github.com/grimoireapp/grimoire-server/internal/service"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/books",
		Summary:     "List books",
		Description: "Returns every book in the catalog",
		Tags:        []string{"Books"},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "bestRatedBooks",
		Method:      http.MethodGet,
		Path:        "/api/books/bestrating",
		Summary:     "Best rated books",
		Description: "Returns up to three rated books, highest average first",
		Tags:        []string{"Books"},
	}, s.handleBestRated)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchBooks",
		Method:      http.MethodGet,
		Path:        "/api/books/search",
		Summary:     "Search books",
		Description: "Full-text search over title, author and genre",
		Tags:        []string{"Books"},
	}, s.handleSearchBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/books/{id}",
		Summary:     "Get book",
		Description: "Returns a single book",
		Tags:        []string{"Books"},
	}, s.handleGetBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteBook",
		Method:      http.MethodDelete,
		Path:        "/api/books/{id}",
		Summary:     "Delete book",
		Description: "Deletes a book and its cover. Only the owner may delete.",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleDeleteBook)

	// Multipart and exact-number bodies are handled by chi directly.
	s.router.With(s.requireAuth).Post("/api/books", s.handleCreateBook)
	s.router.With(s.validateID, s.requireAuth).Put("/api/books/{id}", s.handleUpdateBook)
	s.router.With(s.validateID, s.requireAuth).Post("/api/books/{id}/rating", s.handleRateBook)
}

// === DTOs ===

// RatingResponse is one user's grade.
type RatingResponse struct {
	UserID string `json:"userId" doc:"Rater ID"`
	Grade  int    `json:"grade" doc:"Grade"`
}

// BookResponse is the public shape of a book.
type BookResponse struct {
	ID            string           `json:"id" doc:"Book ID"`
	UserID        string           `json:"userId" doc:"Owner ID"`
	Title         string           `json:"title" doc:"Title"`
	Author        string           `json:"author" doc:"Author"`
	ImageURL      string           `json:"imageUrl" doc:"Cover URL"`
	ImageBlurHash string           `json:"imageBlurHash,omitempty" doc:"BlurHash placeholder of the cover"`
	Year          int              `json:"year" doc:"Publication year"`
	Genre         string           `json:"genre" doc:"Genre"`
	Ratings       []RatingResponse `json:"ratings" doc:"Ratings, one per user"`
	AverageRating float64          `json:"averageRating" doc:"Mean grade rounded to one decimal"`
	CreatedAt     time.Time        `json:"createdAt" doc:"Creation time"`
	UpdatedAt     time.Time        `json:"updatedAt" doc:"Last update time"`
}

// BooksResponse wraps a list of books.
type BooksResponse struct {
	Success bool           `json:"success" doc:"Always true"`
	Books   []BookResponse `json:"books" doc:"Books"`
}

// BooksOutput wraps a book list for Huma.
type BooksOutput struct {
	Body BooksResponse
}

// BookEnvelope wraps a single book.
type BookEnvelope struct {
	Success bool         `json:"success" doc:"Always true"`
	Book    BookResponse `json:"book" doc:"Book"`
}

// BookOutput wraps a single book for Huma.
type BookOutput struct {
	Body BookEnvelope
}

// MessageResponse is a success envelope with a message only.
type MessageResponse struct {
	Success bool   `json:"success" doc:"Always true"`
	Message string `json:"message" doc:"Confirmation message"`
}

// MessageOutput wraps a message for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// SearchBooksInput contains the search query.
type SearchBooksInput struct {
	Query string `query:"q" doc:"Search query"`
	Limit int    `query:"limit" minimum:"0" maximum:"100" doc:"Maximum number of results (default 20)"`
}

// GetBookInput identifies a book.
type GetBookInput struct {
	ID string `path:"id" doc:"Book ID"`
}

// DeleteBookInput identifies the book to delete.
type DeleteBookInput struct {
	Authorization string `header:"Authorization"`
	ID            string `path:"id" doc:"Book ID"`
}

// bookPayload is the JSON form of a book on create and update. Grades are kept
// raw so that only integral numbers are accepted.
type bookPayload struct {
	Title   *string         `json:"title"`
	Author  *string         `json:"author"`
	Year    *int            `json:"year"`
	Genre   *string         `json:"genre"`
	Ratings []ratingPayload `json:"ratings"`

	grades []domain.Rating
}

// input is the payload as a full book. The first grade, if any, is the
// creator's own.
func (p *bookPayload) input() service.BookInput {
	in := service.BookInput{
		Title:  deref(p.Title),
		Author: deref(p.Author),
		Year:   deref(p.Year),
		Genre:  deref(p.Genre),
	}
	if len(p.grades) > 0 {
		first := p.grades[0].Grade
		in.InitialRating = &first
	}
	return in
}

// patch is the payload as a partial update. Omitted fields keep their
// stored values.
func (p *bookPayload) patch() service.BookPatch {
	return service.BookPatch{
		Title:   p.Title,
		Author:  p.Author,
		Year:    p.Year,
		Genre:   p.Genre,
		Ratings: p.grades,
	}
}

func deref[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

type ratingPayload struct {
	UserID string          `json:"userId"`
	Grade  json.RawMessage `json:"grade"`
}

// rateRequest is the body of POST /api/books/{id}/rating.
type rateRequest struct {
	Rating json.RawMessage `json:"rating"`
}

// === Handlers ===

func (s *Server) handleListBooks(ctx context.Context, _ *struct{}) (*BooksOutput, error) {
	books, err := s.services.Books.List(ctx)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}
	return &BooksOutput{Body: BooksResponse{Success: true, Books: s.booksResponse(books)}}, nil
}

func (s *Server) handleBestRated(ctx context.Context, _ *struct{}) (*BooksOutput, error) {
	books, err := s.services.Books.BestRated(ctx)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}
	return &BooksOutput{Body: BooksResponse{Success: true, Books: s.booksResponse(books)}}, nil
}

func (s *Server) handleSearchBooks(ctx context.Context, input *SearchBooksInput) (*BooksOutput, error) {
	books, err := s.services.Books.Search(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}
	return &BooksOutput{Body: BooksResponse{Success: true, Books: s.booksResponse(books)}}, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *GetBookInput) (*BookOutput, error) {
	book, err := s.services.Books.Get(ctx, input.ID)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}
	return &BookOutput{Body: BookEnvelope{Success: true, Book: s.bookResponse(book)}}, nil
}

func (s *Server) handleDeleteBook(ctx context.Context, input *DeleteBookInput) (*MessageOutput, error) {
	identity, err := s.authenticate(input.Authorization)
	if err != nil {
		return nil, s.apiError(ctx, err)
	}

	if err := s.services.Books.Delete(ctx, identity, input.ID); err != nil {
		return nil, s.apiError(ctx, err)
	}
	return &MessageOutput{Body: MessageResponse{Success: true, Message: "Book deleted"}}, nil
}

// handleCreateBook creates a book from a multipart form with a "book" JSON
// field and an "image" file. The first rating in the payload, if any, becomes
// the creator's own grade.
// POST /api/books
func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	if !isMultipart(r) {
		s.writeError(w, domainerrors.Validation("multipart form with book and image is required"))
		return
	}
	raw, image, err := s.readBookForm(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if raw == "" {
		s.writeError(w, domainerrors.Validation("book field is required"))
		return
	}

	payload, err := decodeBookPayload(strings.NewReader(raw))
	if err != nil {
		s.writeError(w, err)
		return
	}

	book, err := s.services.Books.Create(r.Context(), identity, payload.input(), image)
	if err != nil {
		s.writeError(w, err)
		return
	}

	response.Created(w, response.Fields{
		"message": "Book created",
		"book":    s.bookResponse(book),
	}, s.logger)
}

// handleUpdateBook changes the fields present in the payload and keeps the
// rest. The body is either JSON or a multipart form with a "book" JSON field
// and an optional "image".
// PUT /api/books/{id}
func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	bookID := chi.URLParam(r, "id")

	var (
		body  io.Reader
		image []byte
	)
	if isMultipart(r) {
		raw, img, err := s.readBookForm(w, r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if raw == "" {
			s.writeError(w, domainerrors.Validation("book field is required"))
			return
		}
		body = strings.NewReader(raw)
		image = img
	} else {
		body = http.MaxBytesReader(w, r.Body, multipartOverhead)
	}

	payload, err := decodeBookPayload(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	book, err := s.services.Books.Update(r.Context(), identity, bookID, payload.patch(), image)
	if err != nil {
		s.writeError(w, err)
		return
	}

	response.Success(w, response.Fields{
		"message": "Book updated",
		"book":    s.bookResponse(book),
	}, s.logger)
}

// handleRateBook records the caller's grade.
// POST /api/books/{id}/rating
func (s *Server) handleRateBook(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	bookID := chi.URLParam(r, "id")

	var req rateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		s.writeError(w, domainerrors.Validation("invalid request body"))
		return
	}

	grade, err := rating.ParseGrade(req.Rating)
	if err != nil {
		s.writeError(w, err)
		return
	}

	book, err := s.services.Books.Rate(r.Context(), identity, bookID, grade)
	if err != nil {
		s.writeError(w, err)
		return
	}

	response.Success(w, response.Fields{"book": s.bookResponse(book)}, s.logger)
}

// === Helpers ===

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readBookForm parses a book form and returns the "book" field and the bytes
// of the optional "image" file.
func (s *Server) readBookForm(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	limit := s.opts.MaxUploadBytes + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, domainerrors.Validation("upload is too large")
		}
		return "", nil, domainerrors.Validation("failed to parse form data")
	}

	raw := r.FormValue("book")

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return raw, nil, nil
	}
	if err != nil {
		return "", nil, domainerrors.Validation("failed to read image")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("Failed to read uploaded file", "error", err)
		return "", nil, domainerrors.Internal("failed to read uploaded file")
	}
	return raw, data, nil
}

// decodeBookPayload parses a book payload. Every grade must be an integral
// number; range checks are left to the service.
func decodeBookPayload(body io.Reader) (*bookPayload, error) {
	var payload bookPayload
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domainerrors.Validation("request body is too large")
		}
		return nil, domainerrors.Validation("invalid book payload")
	}

	if payload.Ratings != nil {
		payload.grades = make([]domain.Rating, 0, len(payload.Ratings))
		for _, rp := range payload.Ratings {
			grade, err := rating.ParseGrade(rp.Grade)
			if err != nil {
				return nil, err
			}
			payload.grades = append(payload.grades, domain.Rating{UserID: rp.UserID, Grade: grade})
		}
	}
	return &payload, nil
}

func (s *Server) bookResponse(b *domain.Book) BookResponse {
	ratings := make([]RatingResponse, 0, len(b.Ratings))
	for _, r := range b.Ratings {
		ratings = append(ratings, RatingResponse{UserID: r.UserID, Grade: r.Grade})
	}

	imageURL := ""
	if b.ImageRef != "" {
		imageURL = s.opts.BaseURL + "/images/" + b.ImageRef
	}

	return BookResponse{
		ID:            b.ID,
		UserID:        b.UserID,
		Title:         b.Title,
		Author:        b.Author,
		ImageURL:      imageURL,
		ImageBlurHash: b.ImageBlurHash,
		Year:          b.Year,
		Genre:         b.Genre,
		Ratings:       ratings,
		AverageRating: b.AverageRating,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func (s *Server) booksResponse(books []*domain.Book) []BookResponse {
	out := make([]BookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, s.bookResponse(b))
	}
	return out
}

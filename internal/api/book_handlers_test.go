package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoireapp/grimoire-server/internal/id"
	"github.com/grimoireapp/grimoire-server/internal/media/images"
)

func TestHandleCreateBook(t *testing.T) {
	ts := setupTestServer(t)
	userID, token := signupAndLogin(t, ts, "owner@example.com")

	w := ts.do(t, multipartRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", 4), testPNG(t), token))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Book created", body["message"])

	book := body["book"].(map[string]any)
	assert.True(t, id.HasPrefix(book["id"].(string), id.PrefixBook))
	assert.Equal(t, userID, book["userId"])
	assert.Equal(t, "Kindred", book["title"])
	assert.Equal(t, 4.0, book["averageRating"])
	assert.True(t, strings.HasPrefix(book["imageUrl"].(string), testBaseURL+"/images/cover-"))

	ratings := book["ratings"].([]any)
	require.Len(t, ratings, 1)
	assert.Equal(t, userID, ratings[0].(map[string]any)["userId"], "creator rating is attributed to the caller")
}

func TestHandleCreateBook_WithoutRating(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")

	book := createBook(t, ts, token, "Dawn", nil)

	assert.Empty(t, book["ratings"])
	assert.Equal(t, 0.0, book["averageRating"])
}

func TestHandleCreateBook_RequiresAuth(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, multipartRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", 4), testPNG(t), ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, multipartRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", 4), testPNG(t), "garbage"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, jsonRequest(t, http.MethodGet, "/api/books", nil, ""))
	assert.Empty(t, decodeBody(t, w)["books"])
}

func TestHandleCreateBook_Invalid(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	img := testPNG(t)

	blankTitle := bookPayloadFor("   ", 4)
	futureYear := bookPayloadFor("Parable", 4)
	futureYear["year"] = 3000

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"missing image", multipartRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", 4), nil, token)},
		{"missing book field", multipartRequest(t, http.MethodPost, "/api/books", nil, img, token)},
		{"blank title", multipartRequest(t, http.MethodPost, "/api/books", blankTitle, img, token)},
		{"future year", multipartRequest(t, http.MethodPost, "/api/books", futureYear, img, token)},
		{"grade out of range", multipartRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", 6), img, token)},
		{"fractional grade", multipartRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", 4.5), img, token)},
		{"string grade", multipartRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", "4"), img, token)},
		{"not an image", multipartRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", 4), []byte("plain text"), token)},
		{"json body", jsonRequest(t, http.MethodPost, "/api/books", bookPayloadFor("Kindred", 4), token)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, false, decodeBody(t, w)["success"])
		})
	}

	w := ts.do(t, jsonRequest(t, http.MethodGet, "/api/books", nil, ""))
	assert.Empty(t, decodeBody(t, w)["books"], "nothing persisted")
}

func TestHandleGetBook(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	created := createBook(t, ts, token, "Kindred", 5)

	w := ts.do(t, jsonRequest(t, http.MethodGet, "/api/books/"+created["id"].(string), nil, ""))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, created["id"], body["book"].(map[string]any)["id"])
}

func TestHandleGetBook_NotFound(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, jsonRequest(t, http.MethodGet, "/api/books/"+id.MustGenerate(id.PrefixBook), nil, ""))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["success"])
}

func TestInvalidIDFormat(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")

	requests := []*http.Request{
		jsonRequest(t, http.MethodGet, "/api/books/not-an-id", nil, ""),
		jsonRequest(t, http.MethodDelete, "/api/books/123", nil, token),
		jsonRequest(t, http.MethodPut, "/api/books/usr-abc", bookPayloadFor("x", nil), token),
		jsonRequest(t, http.MethodPost, "/api/books/%27%20OR%201=1/rating", map[string]int{"rating": 3}, token),
	}

	for _, req := range requests {
		w := ts.do(t, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%s %s", req.Method, req.URL.Path)
		assert.Equal(t, "Invalid ID format", decodeBody(t, w)["message"])
	}
}

func TestHandleUpdateBook_JSON(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	created := createBook(t, ts, token, "Kindred", 4)

	update := map[string]any{"title": "Kindred (Revised)", "author": "Octavia Butler", "year": 1980, "genre": "Fiction"}
	w := ts.do(t, jsonRequest(t, http.MethodPut, "/api/books/"+created["id"].(string), update, token))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "Book updated", body["message"])

	book := body["book"].(map[string]any)
	assert.Equal(t, "Kindred (Revised)", book["title"])
	assert.Equal(t, 1980.0, book["year"])
	assert.Equal(t, created["imageUrl"], book["imageUrl"], "cover kept without a new image")
	assert.Equal(t, 4.0, book["averageRating"], "ratings kept when omitted")
	assert.Equal(t, created["userId"], book["userId"])
}

func TestHandleUpdateBook_MultipartReplacesCover(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	created := createBook(t, ts, token, "Kindred", 4)
	oldRef := strings.TrimPrefix(created["imageUrl"].(string), testBaseURL+"/images/")

	w := ts.do(t, multipartRequest(t, http.MethodPut, "/api/books/"+created["id"].(string),
		bookPayloadFor("Kindred", nil), testPNG(t), token))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	book := decodeBody(t, w)["book"].(map[string]any)
	assert.NotEqual(t, created["imageUrl"], book["imageUrl"])
	assert.False(t, coverExists(ts.covers, oldRef), "old cover removed")
}

func TestHandleUpdateBook_OwnerCannotBeChanged(t *testing.T) {
	ts := setupTestServer(t)
	ownerID, token := signupAndLogin(t, ts, "owner@example.com")
	created := createBook(t, ts, token, "Kindred", 4)

	update := bookPayloadFor("Kindred", nil)
	update["userId"] = "usr-someoneelse00000000000"
	w := ts.do(t, jsonRequest(t, http.MethodPut, "/api/books/"+created["id"].(string), update, token))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, ownerID, decodeBody(t, w)["book"].(map[string]any)["userId"])
}

func TestHandleUpdateBook_NonOwnerForbidden(t *testing.T) {
	ts := setupTestServer(t)
	_, ownerToken := signupAndLogin(t, ts, "owner@example.com")
	_, otherToken := signupAndLogin(t, ts, "other@example.com")
	created := createBook(t, ts, ownerToken, "Kindred", 4)

	w := ts.do(t, jsonRequest(t, http.MethodPut, "/api/books/"+created["id"].(string), bookPayloadFor("Stolen", nil), otherToken))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized request", decodeBody(t, w)["message"])

	w = ts.do(t, jsonRequest(t, http.MethodGet, "/api/books/"+created["id"].(string), nil, ""))
	assert.Equal(t, "Kindred", decodeBody(t, w)["book"].(map[string]any)["title"])
}

func TestHandleUpdateBook_PartialBodyKeepsOmittedFields(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	created := createBook(t, ts, token, "Kindred", 4)

	w := ts.do(t, jsonRequest(t, http.MethodPut, "/api/books/"+created["id"].(string),
		map[string]any{"title": "Kindred 2"}, token))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	book := decodeBody(t, w)["book"].(map[string]any)
	assert.Equal(t, "Kindred 2", book["title"])
	assert.Equal(t, created["author"], book["author"])
	assert.Equal(t, created["year"], book["year"])
	assert.Equal(t, created["genre"], book["genre"])
	assert.Equal(t, 4.0, book["averageRating"])
}

func TestHandleUpdateBook_NonOwnerInvalidBodyForbidden(t *testing.T) {
	ts := setupTestServer(t)
	_, ownerToken := signupAndLogin(t, ts, "owner@example.com")
	_, otherToken := signupAndLogin(t, ts, "other@example.com")
	created := createBook(t, ts, ownerToken, "Kindred", 4)

	w := ts.do(t, jsonRequest(t, http.MethodPut, "/api/books/"+created["id"].(string),
		map[string]any{"title": "   "}, otherToken))

	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
}

func TestHandleDeleteBook(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	created := createBook(t, ts, token, "Kindred", 4)
	bookID := created["id"].(string)
	ref := strings.TrimPrefix(created["imageUrl"].(string), testBaseURL+"/images/")

	w := ts.do(t, jsonRequest(t, http.MethodDelete, "/api/books/"+bookID, nil, token))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Book deleted", body["message"])
	assert.False(t, coverExists(ts.covers, ref))

	w = ts.do(t, jsonRequest(t, http.MethodGet, "/api/books/"+bookID, nil, ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDeleteBook_AuthAndOwnership(t *testing.T) {
	ts := setupTestServer(t)
	_, ownerToken := signupAndLogin(t, ts, "owner@example.com")
	_, otherToken := signupAndLogin(t, ts, "other@example.com")
	bookID := createBook(t, ts, ownerToken, "Kindred", 4)["id"].(string)

	w := ts.do(t, jsonRequest(t, http.MethodDelete, "/api/books/"+bookID, nil, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["success"])

	w = ts.do(t, jsonRequest(t, http.MethodDelete, "/api/books/"+bookID, nil, otherToken))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, jsonRequest(t, http.MethodGet, "/api/books/"+bookID, nil, ""))
	assert.Equal(t, http.StatusOK, w.Code, "book survives rejected deletes")
}

func TestHandleRateBook(t *testing.T) {
	ts := setupTestServer(t)
	ownerID, ownerToken := signupAndLogin(t, ts, "owner@example.com")
	raterID, raterToken := signupAndLogin(t, ts, "rater@example.com")
	bookID := createBook(t, ts, ownerToken, "Kindred", 5)["id"].(string)

	w := ts.do(t, jsonRequest(t, http.MethodPost, "/api/books/"+bookID+"/rating", map[string]int{"rating": 2}, raterToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	book := decodeBody(t, w)["book"].(map[string]any)
	assert.Equal(t, 3.5, book["averageRating"])

	// Resubmitting replaces the rater's earlier grade.
	w = ts.do(t, jsonRequest(t, http.MethodPost, "/api/books/"+bookID+"/rating", map[string]int{"rating": 4}, raterToken))
	require.Equal(t, http.StatusOK, w.Code)
	book = decodeBody(t, w)["book"].(map[string]any)
	assert.Equal(t, 4.5, book["averageRating"])

	grades := map[string]float64{}
	for _, r := range book["ratings"].([]any) {
		entry := r.(map[string]any)
		grades[entry["userId"].(string)] = entry["grade"].(float64)
	}
	assert.Equal(t, map[string]float64{ownerID: 5, raterID: 4}, grades)
}

func TestHandleRateBook_InvalidGrades(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	bookID := createBook(t, ts, token, "Kindred", 3)["id"].(string)

	for _, raw := range []string{`{"rating":-1}`, `{"rating":6}`, `{"rating":5.5}`, `{"rating":"4"}`, `{}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/books/"+bookID+"/rating", bytes.NewBufferString(raw))
		req.Header.Set("Authorization", "Bearer "+token)
		w := ts.do(t, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %s", raw)
	}

	w := ts.do(t, jsonRequest(t, http.MethodGet, "/api/books/"+bookID, nil, ""))
	assert.Equal(t, 3.0, decodeBody(t, w)["book"].(map[string]any)["averageRating"])
}

func TestHandleRateBook_NotFoundAndAuth(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	missing := id.MustGenerate(id.PrefixBook)

	w := ts.do(t, jsonRequest(t, http.MethodPost, "/api/books/"+missing+"/rating", map[string]int{"rating": 3}, token))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, jsonRequest(t, http.MethodPost, "/api/books/"+missing+"/rating", map[string]int{"rating": 3}, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleRateBook_Concurrent(t *testing.T) {
	ts := setupTestServer(t)
	_, ownerToken := signupAndLogin(t, ts, "owner@example.com")
	bookID := createBook(t, ts, ownerToken, "Kindred", nil)["id"].(string)

	// Two auth calls per user; stay inside the auth rate limit.
	requests := make([]*http.Request, 3)
	for i := range requests {
		_, token := signupAndLogin(t, ts, "rater"+string(rune('a'+i))+"@example.com")
		requests[i] = jsonRequest(t, http.MethodPost, "/api/books/"+bookID+"/rating", map[string]int{"rating": i + 1}, token)
	}

	var wg sync.WaitGroup
	for _, req := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			ts.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		}()
	}
	wg.Wait()

	book, err := ts.store.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	assert.Len(t, book.Ratings, 3)
	assert.Equal(t, 2.0, book.AverageRating)
}

func TestHandleBestRated(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")

	createBook(t, ts, token, "Unrated", nil)
	for _, g := range []int{2, 5, 3, 4} {
		createBook(t, ts, token, "Graded "+string(rune('0'+g)), g)
	}

	w := ts.do(t, jsonRequest(t, http.MethodGet, "/api/books/bestrating", nil, ""))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	books := decodeBody(t, w)["books"].([]any)
	require.Len(t, books, 3)
	var averages []float64
	for _, b := range books {
		averages = append(averages, b.(map[string]any)["averageRating"].(float64))
	}
	assert.Equal(t, []float64{5, 4, 3}, averages)
}

func TestHandleListBooks(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	createBook(t, ts, token, "Kindred", 4)
	createBook(t, ts, token, "Dawn", nil)

	w := ts.do(t, jsonRequest(t, http.MethodGet, "/api/books", nil, ""))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["books"], 2)
}

func TestHandleSearchBooks(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	createBook(t, ts, token, "Parable of the Sower", 4)
	createBook(t, ts, token, "Wild Seed", nil)

	w := ts.do(t, jsonRequest(t, http.MethodGet, "/api/books/search?q=sower", nil, ""))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	books := decodeBody(t, w)["books"].([]any)
	require.Len(t, books, 1)
	assert.Equal(t, "Parable of the Sower", books[0].(map[string]any)["title"])
}

func TestHandleServeImage(t *testing.T) {
	ts := setupTestServer(t)
	_, token := signupAndLogin(t, ts, "owner@example.com")
	created := createBook(t, ts, token, "Kindred", 4)
	path := strings.TrimPrefix(created["imageUrl"].(string), testBaseURL)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	etag := w.Header().Get("ETag")
	assert.NotZero(t, w.Body.Len())
	assert.Equal(t, `"`+images.ContentHash(w.Body.Bytes())+`"`, etag, "ETag hashes the served bytes")

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("If-None-Match", etag)
	w = ts.do(t, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Zero(t, w.Body.Len())

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/images/"+id.MustGenerate(id.PrefixCover), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/images/..%2F..%2Fetc%2Fpasswd", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

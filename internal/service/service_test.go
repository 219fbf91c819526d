package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grimoireapp/grimoire-server/internal/auth"
	"github.com/grimoireapp/grimoire-server/internal/media/images"
	"github.com/grimoireapp/grimoire-server/internal/rating"
	"github.com/grimoireapp/grimoire-server/internal/store/badgerdb"
	"github.com/grimoireapp/grimoire-server/internal/validation"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// recorder counts metric calls.
type recorder struct {
	mu                 sync.Mutex
	ratings            map[string]int
	blobDeleteFailures int
}

func newRecorder() *recorder { return &recorder{ratings: map[string]int{}} }

func (r *recorder) RecordRequest(string, string, int, time.Duration) {}
func (r *recorder) RecordConflictRetry()                           {}

func (r *recorder) RecordRatingSubmission(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ratings[outcome]++
}

func (r *recorder) RecordBlobDeleteFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobDeleteFailures++
}

// flakyCovers fails deletions on demand.
type flakyCovers struct {
	*images.Storage
	failDelete bool
}

func (f *flakyCovers) Delete(ctx context.Context, ref string) error {
	if f.failDelete {
		return os.ErrPermission
	}
	return f.Storage.Delete(ctx, ref)
}

func coverExists(s *images.Storage, ref string) bool {
	_, err := os.Stat(s.Path(ref))
	return err == nil
}

type bookHarness struct {
	svc      *BookService
	store    *badgerdb.Store
	covers   *flakyCovers
	coverDir string
	metrics  *recorder
}

func newBookHarness(t *testing.T, opts ...BookServiceOption) *bookHarness {
	t.Helper()

	s, err := badgerdb.Open(filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	base := t.TempDir()
	storage, err := images.NewStorage(base)
	require.NoError(t, err)

	h := &bookHarness{
		store:    s,
		covers:   &flakyCovers{Storage: storage},
		coverDir: filepath.Join(base, "covers"),
		metrics:  newRecorder(),
	}
	opts = append([]BookServiceOption{WithMetrics(h.metrics), WithBookClock(fixedClock)}, opts...)
	h.svc = NewBookService(
		s,
		h.covers,
		images.NewProcessor(0, 0, nil),
		rating.NewAggregator(rating.DefaultBounds()),
		validation.New(validation.WithClock(fixedClock)),
		nil,
		opts...,
	)
	return h
}

func (h *bookHarness) coverCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(h.coverDir)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".jpg" {
			n++
		}
	}
	return n
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := range 60 {
		for x := range 40 {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func validInput() BookInput {
	return BookInput{
		Title:  "The Left Hand of Darkness",
		Author: "Ursula K. Le Guin",
		Year:   1969,
		Genre:  "Science Fiction",
	}
}

func grade(g int) *int { return &g }

// full turns in into a patch that sets every editable field.
func full(in BookInput) BookPatch {
	return BookPatch{Title: &in.Title, Author: &in.Author, Year: &in.Year, Genre: &in.Genre}
}

var (
	alice = auth.Identity{Subject: "usr-alice", Email: "alice@example.com"}
	bob   = auth.Identity{Subject: "usr-bob", Email: "bob@example.com"}
	carol = auth.Identity{Subject: "usr-carol", Email: "carol@example.com"}
)

package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"log/slog"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Cover limits.
const (
	MaxCoverWidth   = 800
	MaxCoverHeight  = 1200
	DefaultMaxBytes = 5 << 20
	DefaultQuality  = 80
)

var (
	// ErrTooLarge is returned when an upload exceeds the configured byte limit.
	ErrTooLarge = errors.New("image exceeds maximum size")
	// ErrUnsupported is returned when the upload is not a decodable image.
	ErrUnsupported = errors.New("unsupported image format")
)

// Cover is a normalized cover image ready to store.
type Cover struct {
	Data     []byte // JPEG
	Width    int
	Height   int
	BlurHash string
}

// Processor turns uploads into normalized JPEG covers.
type Processor struct {
	maxBytes int64
	quality  int
	logger   *slog.Logger
}

// NewProcessor creates a Processor. Non-positive limits fall back to defaults.
func NewProcessor(maxBytes int64, quality int, logger *slog.Logger) *Processor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{maxBytes: maxBytes, quality: quality, logger: logger}
}

// MaxBytes returns the upload size limit.
func (p *Processor) MaxBytes() int64 {
	return p.maxBytes
}

// Process decodes a JPEG, PNG, GIF or WebP upload, scales it down to fit
// MaxCoverWidth x MaxCoverHeight, and re-encodes it as JPEG. A BlurHash
// failure is logged and leaves Cover.BlurHash empty.
func (p *Processor) Process(data []byte) (*Cover, error) {
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), p.maxBytes)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	img := resize(src, MaxCoverWidth, MaxCoverHeight)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	hash, err := ComputeBlurHash(img)
	if err != nil {
		p.logger.Warn("failed to compute blurhash", "error", err)
		hash = ""
	}

	b := img.Bounds()
	p.logger.Debug("processed cover",
		"format", format,
		"in_bytes", len(data),
		"out_bytes", buf.Len(),
		"width", b.Dx(),
		"height", b.Dy(),
	)

	return &Cover{
		Data:     buf.Bytes(),
		Width:    b.Dx(),
		Height:   b.Dy(),
		BlurHash: hash,
	}, nil
}

// resize scales src down with Catmull-Rom to fit maxW x maxH. Images that
// already fit are returned unchanged.
func resize(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxW, maxH)
	if w == b.Dx() && h == b.Dy() {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

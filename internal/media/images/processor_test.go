package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 120, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessor_ScalesDownToFit(t *testing.T) {
	p := NewProcessor(0, 0, nil)

	cover, err := p.Process(encodePNG(t, gradient(1600, 1600)))
	require.NoError(t, err)

	assert.Equal(t, 800, cover.Width)
	assert.Equal(t, 800, cover.Height)
	assert.NotEmpty(t, cover.BlurHash)

	decoded, format, err := image.Decode(bytes.NewReader(cover.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 800, decoded.Bounds().Dx())
}

func TestProcessor_TallImageBoundByHeight(t *testing.T) {
	p := NewProcessor(0, 0, nil)

	cover, err := p.Process(encodePNG(t, gradient(600, 2400)))
	require.NoError(t, err)
	assert.Equal(t, 300, cover.Width)
	assert.Equal(t, 1200, cover.Height)
}

func TestProcessor_SmallImageKeepsSize(t *testing.T) {
	p := NewProcessor(0, 0, nil)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(120, 180), &jpeg.Options{Quality: 95}))

	cover, err := p.Process(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 120, cover.Width)
	assert.Equal(t, 180, cover.Height)
}

func TestProcessor_Rejections(t *testing.T) {
	p := NewProcessor(1024, 80, nil)
	assert.Equal(t, int64(1024), p.MaxBytes())

	_, err := p.Process(make([]byte, 2048))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = p.Process([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, wantW, wantH int
	}{
		{100, 100, 100, 100},
		{1600, 1200, 800, 600},
		{800, 2400, 400, 1200},
		{5000, 1, 800, 1},
		{1, 5000, 1, 1200},
	}
	for _, tt := range tests {
		w, h := fit(tt.w, tt.h, 800, 1200)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
	}
}

func TestComputeBlurHash(t *testing.T) {
	hash, err := ComputeBlurHash(gradient(300, 450))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	again, err := ComputeBlurHash(gradient(300, 450))
	require.NoError(t, err)
	assert.Equal(t, hash, again, "deterministic")
}

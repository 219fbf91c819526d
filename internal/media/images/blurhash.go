package images

import (
	"fmt"
	"image"

	"github.com/bbrks/go-blurhash"
	"golang.org/x/image/draw"
)

// blurHashSize is the target size for BlurHash computation.
// BlurHash doesn't need high resolution - a small thumbnail produces nearly identical results.
const blurHashSize = 64

// ComputeBlurHash generates a BlurHash string for img.
// Uses 4x3 components for a good balance of size (~20-30 chars) and detail.
func ComputeBlurHash(img image.Image) (string, error) {
	hash, err := blurhash.Encode(4, 3, thumbnail(img, blurHashSize))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}

// thumbnail scales img to fit a size x size box. Small images are returned as is.
func thumbnail(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() <= size && b.Dy() <= size {
		return img
	}

	w, h := fit(b.Dx(), b.Dy(), size, size)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// fit returns w x h scaled down, aspect preserved, to fit within maxW x maxH.
// Dimensions never drop below 1.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	// Compare ratios by cross-multiplication to stay in integers.
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}

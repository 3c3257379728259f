// Package parity measures visual similarity between the source site and
// the localized clone, pixel by pixel, across routes and viewports.
package parity

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
)

// diffThreshold is the summed RGB delta above which a pixel counts as
// different (roughly 10 per channel). Sub-threshold deltas are treated as
// rendering noise, not mismatches.
const diffThreshold = 30

// diffGain amplifies the raw delta in the visualization so faint
// differences become visible to a human reviewer.
const diffGain = 10

// Compare computes the per-pixel similarity of two renders as a 0-100
// score plus an amplified difference image. Both images are normalized to
// RGBA first. When dimensions differ, b is resampled to a's bounds with
// Catmull-Rom: minor viewport/scroll differences between engines are
// tolerated, at the cost of masking real layout-size regressions, so a
// score under resampling is only approximate.
func Compare(a, b image.Image) (float64, *image.RGBA) {
	ra := toRGBA(a)
	rb := toRGBA(b)

	if !ra.Bounds().Eq(rb.Bounds()) {
		dst := image.NewRGBA(ra.Bounds())
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), rb, rb.Bounds(), xdraw.Src, nil)
		rb = dst
	}

	bounds := ra.Bounds()
	diff := image.NewRGBA(bounds)
	var different, total int

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			ia := ra.PixOffset(x, y)
			ib := rb.PixOffset(x, y)
			id := diff.PixOffset(x, y)

			var sum int
			for c := 0; c < 3; c++ {
				d := absDelta(ra.Pix[ia+c], rb.Pix[ib+c])
				sum += int(d)
				diff.Pix[id+c] = amplify(d)
			}
			diff.Pix[id+3] = 0xff

			total++
			if sum > diffThreshold {
				different++
			}
		}
	}

	if total == 0 {
		return 100, diff
	}
	similarity := (1 - float64(different)/float64(total)) * 100
	return math.Round(similarity*100) / 100, diff
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}

func absDelta(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

func amplify(d uint8) uint8 {
	v := int(d) * diffGain
	if v > 0xff {
		return 0xff
	}
	return uint8(v)
}

// loadPNG decodes a screenshot from disk.
func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parity: open %s: %w", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("parity: decode %s: %w", path, err)
	}
	return img, nil
}

// writePNG encodes an image to disk, creating parent directories.
func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("parity: mkdir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("parity: create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("parity: encode %s: %w", path, err)
	}
	return nil
}

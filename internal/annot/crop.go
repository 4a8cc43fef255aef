package annot

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// contentThreshold separates page background (near-white) from content
// pixels when tightening boxes.
const contentThreshold = 245

// CropToContent tightens every box to the smallest rectangle containing
// non-background pixels, eliminating annotator slack around the content.
// Boxes are expected in image pixel space. A box covering only background
// is returned unchanged.
func CropToContent(imageBytes []byte, boxes []BoundingBox) ([]BoundingBox, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	bounds := img.Bounds()

	out := make([]BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, cropBox(img, bounds, b))
	}
	return out, nil
}

func cropBox(img image.Image, bounds image.Rectangle, b BoundingBox) BoundingBox {
	x0 := clampInt(int(math.Floor(b.X)), bounds.Min.X, bounds.Max.X)
	y0 := clampInt(int(math.Floor(b.Y)), bounds.Min.Y, bounds.Max.Y)
	x1 := clampInt(int(math.Ceil(b.X+b.Width)), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Ceil(b.Y+b.Height)), bounds.Min.Y, bounds.Max.Y)
	if x1 <= x0 || y1 <= y0 {
		return b
	}

	minX, minY := x1, y1
	maxX, maxY := x0, y0
	found := false
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if !isContent(img, x, y) {
				continue
			}
			found = true
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if !found {
		return b
	}

	return BoundingBox{
		Class:  b.Class,
		X:      float64(minX),
		Y:      float64(minY),
		Width:  float64(maxX - minX + 1),
		Height: float64(maxY - minY + 1),
	}
}

// isContent treats any pixel darker than the near-white threshold as page
// content. Alpha-transparent pixels count as background.
func isContent(img image.Image, x, y int) bool {
	r, g, b, a := img.At(x, y).RGBA()
	if a == 0 {
		return false
	}
	// 16-bit channels; luminance per ITU-R BT.601
	lum := (299*r + 587*g + 114*b) / 1000 >> 8
	return lum < contentThreshold
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package annot implements the bounding-box geometry behind the
// inter-annotator agreement check: answer payload parsing, coordinate
// space conversion, content cropping and IoU set comparison.
package annot

import (
	"fmt"

	"github.com/pagecrowd/pagecrowd/internal/model"
)

// BoundingBox is an axis-aligned box in absolute pixel coordinates.
type BoundingBox struct {
	Class  string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// RelativeBoundingBox is a box normalized to 0–1 by canvas dimensions, so
// answers drawn on differently-sized canvases stay comparable.
type RelativeBoundingBox struct {
	Class  string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ParseAnswer extracts absolute bounding boxes from a raw answer payload.
func ParseAnswer(a model.Answer) ([]BoundingBox, error) {
	if a.CanvasWidth <= 0 || a.CanvasHeight <= 0 {
		return nil, fmt.Errorf("answer has degenerate canvas %gx%g", a.CanvasWidth, a.CanvasHeight)
	}
	boxes := make([]BoundingBox, 0, len(a.Annotations))
	for _, ann := range a.Annotations {
		boxes = append(boxes, BoundingBox{
			Class:  ann.Type,
			X:      ann.X,
			Y:      ann.Y,
			Width:  ann.Width,
			Height: ann.Height,
		})
	}
	return boxes, nil
}

// ExportAnswer converts boxes back into the raw payload format.
func ExportAnswer(boxes []BoundingBox, canvasWidth, canvasHeight float64) model.Answer {
	anns := make([]model.Annotation, 0, len(boxes))
	for i, b := range boxes {
		anns = append(anns, model.Annotation{
			ID:     fmt.Sprintf("%d", i),
			Type:   b.Class,
			X:      b.X,
			Y:      b.Y,
			Width:  b.Width,
			Height: b.Height,
		})
	}
	return model.Answer{
		CanvasWidth:  canvasWidth,
		CanvasHeight: canvasHeight,
		Annotations:  anns,
	}
}

// ToRelative normalizes absolute boxes by the canvas dimensions.
func ToRelative(boxes []BoundingBox, width, height float64) []RelativeBoundingBox {
	out := make([]RelativeBoundingBox, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, RelativeBoundingBox{
			Class:  b.Class,
			X:      b.X / width,
			Y:      b.Y / height,
			Width:  b.Width / width,
			Height: b.Height / height,
		})
	}
	return out
}

// ToAbsolute is the inverse of ToRelative.
func ToAbsolute(boxes []RelativeBoundingBox, width, height float64) []BoundingBox {
	out := make([]BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, BoundingBox{
			Class:  b.Class,
			X:      b.X * width,
			Y:      b.Y * height,
			Width:  b.Width * width,
			Height: b.Height * height,
		})
	}
	return out
}

// Scale multiplies box coordinates by independent x/y factors, used to map
// canvas-space boxes into image pixel space.
func Scale(boxes []BoundingBox, sx, sy float64) []BoundingBox {
	out := make([]BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, BoundingBox{
			Class:  b.Class,
			X:      b.X * sx,
			Y:      b.Y * sy,
			Width:  b.Width * sx,
			Height: b.Height * sy,
		})
	}
	return out
}

// IoU computes intersection-over-union of two relative boxes.
func IoU(a, b RelativeBoundingBox) float64 {
	ix := overlap(a.X, a.X+a.Width, b.X, b.X+b.Width)
	iy := overlap(a.Y, a.Y+a.Height, b.Y, b.Y+b.Height)
	inter := ix * iy
	if inter <= 0 {
		return 0
	}
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func overlap(a1, a2, b1, b2 float64) float64 {
	lo := a1
	if b1 > lo {
		lo = b1
	}
	hi := a2
	if b2 < hi {
		hi = b2
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

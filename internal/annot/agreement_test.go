package annot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func shiftAll(boxes []RelativeBoundingBox, dx, dy float64) []RelativeBoundingBox {
	out := make([]RelativeBoundingBox, len(boxes))
	for i, b := range boxes {
		out[i] = b
		out[i].X += dx
		out[i].Y += dy
	}
	return out
}

func TestCheckAgreement_SlightShiftMatches(t *testing.T) {
	a := []RelativeBoundingBox{
		{Class: "figure", X: 0.10, Y: 0.10, Width: 0.30, Height: 0.30},
		{Class: "table", X: 0.50, Y: 0.20, Width: 0.25, Height: 0.40},
		{Class: "caption", X: 0.10, Y: 0.60, Width: 0.30, Height: 0.05},
	}
	// shift by 1% of the smallest box dimension
	b := shiftAll(a, 0.0005, 0.0005)

	assert.True(t, CheckAgreement(a, b, 0.95))
}

func TestCheckAgreement_LargeShiftFails(t *testing.T) {
	a := []RelativeBoundingBox{{Class: "figure", X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3}}
	b := shiftAll(a, 0.05, 0.05)

	assert.False(t, CheckAgreement(a, b, 0.95))
}

func TestCheckAgreement_CountMismatch(t *testing.T) {
	a := []RelativeBoundingBox{{Class: "figure", X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3}}

	assert.False(t, CheckAgreement(a, nil, 0.95))
	assert.False(t, CheckAgreement(nil, a, 0.95))
	assert.True(t, CheckAgreement(nil, nil, 0.95))
}

func TestCheckAgreement_ClassMismatch(t *testing.T) {
	a := []RelativeBoundingBox{{Class: "figure", X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3}}
	b := []RelativeBoundingBox{{Class: "table", X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3}}

	assert.False(t, CheckAgreement(a, b, 0.95))
}

func TestCheckAgreement_NoDoubleMatching(t *testing.T) {
	// both boxes in a sit on the same spot; b has one there and one elsewhere
	a := []RelativeBoundingBox{
		{Class: "figure", X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3},
		{Class: "figure", X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3},
	}
	b := []RelativeBoundingBox{
		{Class: "figure", X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3},
		{Class: "figure", X: 0.6, Y: 0.6, Width: 0.3, Height: 0.3},
	}

	assert.False(t, CheckAgreement(a, b, 0.95))
}

package annot

// DefaultIoUThreshold is the agreement threshold used by the evaluation
// engine unless configured otherwise.
const DefaultIoUThreshold = 0.95

// CheckAgreement reports whether two relative box sets fully agree: every
// box in one set is matched one-to-one to a box of the same class in the
// other with IoU at or above the threshold, with no unmatched leftovers on
// either side.
func CheckAgreement(a, b []RelativeBoundingBox, iouThreshold float64) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, boxA := range a {
		best := -1
		bestIoU := 0.0
		for j, boxB := range b {
			if used[j] || boxA.Class != boxB.Class {
				continue
			}
			if iou := IoU(boxA, boxB); iou >= iouThreshold && iou > bestIoU {
				best = j
				bestIoU = iou
			}
		}
		if best < 0 {
			return false
		}
		used[best] = true
	}
	return true
}

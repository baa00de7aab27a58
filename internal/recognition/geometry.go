package recognition

// IoU calculates Intersection over Union between two bounding boxes.
// a and b are [x1, y1, x2, y2] in the same coordinate system.
// Degenerate boxes (zero area, empty union) yield 0, never a division fault.
func IoU(a, b []float64) float64 {
	if len(a) != 4 || len(b) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(b[3], a[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

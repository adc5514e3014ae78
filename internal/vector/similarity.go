package vector

// InnerProduct returns a·b, or 0 when the lengths differ or are zero. On unit
// vectors it is the cosine similarity.
func InnerProduct(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i, x := range a {
		sum += float64(x) * float64(b[i])
	}
	return sum
}

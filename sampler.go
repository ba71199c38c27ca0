package shelltune

// sampleMult draws an index from a probability distribution by walking the
// CDF with a coin in [0, 1).
func sampleMult(probabilities []float32, coin float32) int {
	var cdf float32
	for i, prob := range probabilities {
		cdf += prob
		if coin < cdf {
			return i
		}
	}
	return len(probabilities) - 1 // rounding slack
}

package metrics

// MeanValueDistance averages, over ground-truth keys with at least one
// predicted key within threshold, the smallest value distance among those
// predicted keys. A ground-truth key whose best value distance is still 1.0
// contributes nothing. With no contributions the mean is 1.0.
func MeanValueDistance(gt, pred KV, threshold float64) float64 {
	g := normalizePairs(gt)
	p := normalizePairs(pred)

	var sum float64
	var n int
	for _, gp := range g {
		best := 1.0
		for _, pp := range p {
			if NormalizedDistance(gp.Key, pp.Key) > threshold {
				continue
			}
			if d := NormalizedDistance(gp.Value, pp.Value); d < best {
				best = d
			}
		}
		if best < 1.0 {
			sum += best
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

// ValueQualityScore is 1 - MeanValueDistance.
func ValueQualityScore(gt, pred KV, threshold float64) float64 {
	return 1 - MeanValueDistance(gt, pred, threshold)
}

package metrics

// CanonicalF1 scores the single best one-to-one alignment between ground
// truth and prediction. A cell carries the mean of key and value similarity
// when both reach tau, else 0; an assigned pair is a true positive only when
// its cell is positive. Order independent.
func CanonicalF1(gt, pred KV, tau float64) float64 {
	if len(gt) == 0 || len(pred) == 0 {
		return 0
	}
	g := normalizePairs(gt)
	p := normalizePairs(pred)

	sim := make([][]float64, len(g))
	for i, gp := range g {
		sim[i] = make([]float64, len(p))
		for j, pp := range p {
			ks := Similarity(gp.Key, pp.Key)
			vs := Similarity(gp.Value, pp.Value)
			if ks >= tau && vs >= tau {
				sim[i][j] = (ks + vs) / 2
			}
		}
	}

	tp := 0
	for i, j := range maxWeightAssignment(sim, len(g), len(p)) {
		if j >= 0 && sim[i][j] > 0 {
			tp++
		}
	}
	return f1(tp, len(p)-tp, len(g)-tp)
}

package metrics

import "math"

// Confusion is the precision/recall/accuracy view of one matching pass.
// TN is synthetic (there is no real negative space); it only exists to give
// accuracy a value.
type Confusion struct {
	TP        int
	FP        int
	FN        int
	TN        int
	Precision float64
	Recall    float64
	Accuracy  float64
}

// NewConfusion derives rates from raw counts; rates are rounded to 4 places.
func NewConfusion(tp, fp, fn, totalGT, totalPred int) Confusion {
	var precision, recall, accuracy float64
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	tn := max(0, totalGT+totalPred-tp-fp-fn)
	if total := tp + tn + fp + fn; total > 0 {
		accuracy = float64(tp+tn) / float64(total)
	}
	return Confusion{
		TP:        tp,
		FP:        fp,
		FN:        fn,
		TN:        tn,
		Precision: round4(precision),
		Recall:    round4(recall),
		Accuracy:  round4(accuracy),
	}
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

package metrics

import (
	"errors"
	"fmt"
)

const (
	// DefaultThreshold is the normalized-distance cutoff for a fuzzy match.
	DefaultThreshold = 0.20
	// DefaultTau is the minimum key and value similarity for canonical F1.
	DefaultTau = 0.80
)

// Evaluate wraps flattening errors with one of these so callers can tell a
// bad ground truth from a bad prediction.
var (
	ErrGroundTruth = errors.New("ground truth not scorable")
	ErrPrediction  = errors.New("prediction not scorable")
)

// Result is the full per-file metric record. JSON names are the ones
// persisted in results files.
type Result struct {
	KVF1Fuzzy         float64 `json:"kv_f1_fuzzy"`
	KVF1Exact         float64 `json:"kv_f1_exact"`
	CanonicalF1       float64 `json:"canonical_f1"`
	ValueQualityScore float64 `json:"value_quality_score"`

	FuzzyTP        int     `json:"fuzzy_tp"`
	FuzzyFP        int     `json:"fuzzy_fp"`
	FuzzyFN        int     `json:"fuzzy_fn"`
	FuzzyTN        int     `json:"fuzzy_tn"`
	FuzzyPrecision float64 `json:"fuzzy_precision"`
	FuzzyRecall    float64 `json:"fuzzy_recall"`
	FuzzyAccuracy  float64 `json:"fuzzy_accuracy"`

	ExactTP        int     `json:"exact_tp"`
	ExactFP        int     `json:"exact_fp"`
	ExactFN        int     `json:"exact_fn"`
	ExactTN        int     `json:"exact_tn"`
	ExactPrecision float64 `json:"exact_precision"`
	ExactRecall    float64 `json:"exact_recall"`
	ExactAccuracy  float64 `json:"exact_accuracy"`

	TotalGTPairs   int `json:"total_gt_pairs"`
	TotalPredPairs int `json:"total_pred_pairs"`
}

// Score is the per-file score: the mean of the four headline metrics.
func (r Result) Score() float64 {
	return (r.KVF1Fuzzy + r.KVF1Exact + r.CanonicalF1 + r.ValueQualityScore) / 4
}

// Fuzzy returns the confusion view of the fuzzy pass.
func (r Result) Fuzzy() Confusion {
	return Confusion{TP: r.FuzzyTP, FP: r.FuzzyFP, FN: r.FuzzyFN, TN: r.FuzzyTN,
		Precision: r.FuzzyPrecision, Recall: r.FuzzyRecall, Accuracy: r.FuzzyAccuracy}
}

// Exact returns the confusion view of the exact pass.
func (r Result) Exact() Confusion {
	return Confusion{TP: r.ExactTP, FP: r.ExactFP, FN: r.ExactFN, TN: r.ExactTN,
		Precision: r.ExactPrecision, Recall: r.ExactRecall, Accuracy: r.ExactAccuracy}
}

// Compute runs every metric over two flattened documents. Scores and rates
// are rounded to 4 decimal places.
func Compute(gt, pred KV, threshold, tau float64) Result {
	fuzzy := matchKV(gt, pred, true, threshold)
	exact := matchKV(gt, pred, false, 0)
	fc := NewConfusion(fuzzy.TP, fuzzy.FP, fuzzy.FN, len(gt), len(pred))
	ec := NewConfusion(exact.TP, exact.FP, exact.FN, len(gt), len(pred))

	return Result{
		KVF1Fuzzy:         round4(fuzzy.f1()),
		KVF1Exact:         round4(exact.f1()),
		CanonicalF1:       round4(CanonicalF1(gt, pred, tau)),
		ValueQualityScore: round4(ValueQualityScore(gt, pred, threshold)),

		FuzzyTP:        fc.TP,
		FuzzyFP:        fc.FP,
		FuzzyFN:        fc.FN,
		FuzzyTN:        fc.TN,
		FuzzyPrecision: fc.Precision,
		FuzzyRecall:    fc.Recall,
		FuzzyAccuracy:  fc.Accuracy,

		ExactTP:        ec.TP,
		ExactFP:        ec.FP,
		ExactFN:        ec.FN,
		ExactTN:        ec.TN,
		ExactPrecision: ec.Precision,
		ExactRecall:    ec.Recall,
		ExactAccuracy:  ec.Accuracy,

		TotalGTPairs:   len(gt),
		TotalPredPairs: len(pred),
	}
}

// Evaluate flattens both raw documents with the dataset adapter and computes
// the metrics.
func Evaluate(dataset string, gt, pred []byte, threshold, tau float64) (Result, error) {
	gkv, err := Flatten(dataset, gt)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrGroundTruth, err)
	}
	pkv, err := Flatten(dataset, pred)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrPrediction, err)
	}
	return Compute(gkv, pkv, threshold, tau), nil
}

// Evaluator binds a dataset and thresholds; it is what the scheduler calls
// once per successful extraction.
type Evaluator struct {
	Dataset   string
	Threshold float64
	Tau       float64
}

// NewEvaluator returns an Evaluator with the default thresholds.
func NewEvaluator(dataset string) Evaluator {
	return Evaluator{Dataset: dataset, Threshold: DefaultThreshold, Tau: DefaultTau}
}

// Evaluate scores one prediction against its ground truth.
func (e Evaluator) Evaluate(gt, pred []byte) (Result, error) {
	return Evaluate(e.Dataset, gt, pred, e.Threshold, e.Tau)
}

// MeanScore is the run score: the mean per-file score, 0 for no files.
func MeanScore(results map[string]Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score()
	}
	return sum / float64(len(results))
}

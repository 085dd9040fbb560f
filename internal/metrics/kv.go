package metrics

// matchCounts holds the outcome of one matching pass.
type matchCounts struct {
	TP, FP, FN int
}

func (c matchCounts) f1() float64 {
	return f1(c.TP, c.FP, c.FN)
}

func f1(tp, fp, fn int) float64 {
	if tp == 0 {
		return 0
	}
	return 2 * float64(tp) / float64(2*tp+fp+fn)
}

func normalizePairs(kv KV) KV {
	out := make(KV, len(kv))
	for i, p := range kv {
		out[i] = Pair{Key: Normalize(p.Key), Value: Normalize(p.Value)}
	}
	return out
}

// matchKV is first-fit: each prediction, in order, consumes the first
// unmatched ground-truth pair (in ground-truth order) whose key and value
// both match. With fuzzy=false a match is string equality after
// normalization; otherwise normalized distance <= threshold.
func matchKV(gt, pred KV, fuzzy bool, threshold float64) matchCounts {
	g := normalizePairs(gt)
	p := normalizePairs(pred)

	same := func(a, b string) bool {
		if fuzzy {
			return NormalizedDistance(a, b) <= threshold
		}
		return a == b
	}

	matched := make([]bool, len(g))
	var c matchCounts
	for _, pp := range p {
		found := false
		for i, gp := range g {
			if matched[i] {
				continue
			}
			if same(pp.Key, gp.Key) && same(pp.Value, gp.Value) {
				matched[i] = true
				found = true
				break
			}
		}
		if found {
			c.TP++
		} else {
			c.FP++
		}
	}
	c.FN = len(g) - c.TP
	return c
}

// FuzzyKVF1 is the greedy fuzzy key/value F1.
func FuzzyKVF1(gt, pred KV, threshold float64) float64 {
	return matchKV(gt, pred, true, threshold).f1()
}

// ExactKVF1 is the greedy exact key/value F1.
func ExactKVF1(gt, pred KV) float64 {
	return matchKV(gt, pred, false, 0).f1()
}

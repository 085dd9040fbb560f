package benchmark

import (
	"sort"

	"github.com/joseph-ayodele/docbench/internal/common"
	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/store"
)

// Mode picks which end of the ranking TopFiles returns.
type Mode string

const (
	ModeBest  Mode = "best"
	ModeWorst Mode = "worst"
)

// FileScore is a file id with its per-file score.
type FileScore struct {
	FileID string
	Score  float64
}

// ScoreFile is the run score of a results file: the mean per-file score,
// 0 when the file has no results.
func ScoreFile(path string) (float64, error) {
	records, err := store.LoadResults(path)
	if err != nil {
		return 0, err
	}
	return metrics.MeanScore(toMetrics(records)), nil
}

// Rank returns every file of a results file ordered by score, highest first
// for ModeBest and lowest first for ModeWorst. Ties keep file id order.
func Rank(path string, mode Mode) ([]FileScore, error) {
	if mode != ModeBest && mode != ModeWorst {
		return nil, common.InvalidInputf("mode must be %q or %q, got %q", ModeBest, ModeWorst, mode)
	}
	records, err := store.LoadResults(path)
	if err != nil {
		return nil, err
	}
	scored := make([]FileScore, 0, len(records))
	for id, rec := range records {
		scored = append(scored, FileScore{FileID: id, Score: rec.Score()})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].FileID < scored[j].FileID })
	sort.SliceStable(scored, func(i, j int) bool {
		if mode == ModeBest {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Score < scored[j].Score
	})
	return scored, nil
}

// TopFiles returns up to n file ids from the chosen end of the ranking.
func TopFiles(path string, n int, mode Mode) ([]string, error) {
	ranked, err := Rank(path, mode)
	if err != nil {
		return nil, err
	}
	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	ids := make([]string, len(ranked))
	for i, fs := range ranked {
		ids[i] = fs.FileID
	}
	return ids, nil
}

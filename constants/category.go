package constants

import "strings"

// Dataset identifies which flattening adapter and schema descriptor apply.
type Dataset string

const (
	DatasetCORD    Dataset = "cord"
	DatasetFUNSD   Dataset = "funsd"
	DatasetGeneric Dataset = "generic" // already-flat key/value annotations
)

var knownDatasets = []Dataset{DatasetCORD, DatasetFUNSD}

// KnownDatasets returns the dataset names with a dedicated adapter.
func KnownDatasets() []string {
	out := make([]string, len(knownDatasets))
	for i, d := range knownDatasets {
		out[i] = string(d)
	}
	return out
}

// CanonicalDataset maps a user-supplied dataset name onto a known adapter.
// Unknown names fall back to DatasetGeneric with ok=false.
func CanonicalDataset(name string) (Dataset, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, d := range knownDatasets {
		if normalized == string(d) {
			return d, true
		}
	}
	return DatasetGeneric, false
}

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbench/constants"
	"github.com/joseph-ayodele/docbench/internal/metrics"
)

func TestFailuresPath(t *testing.T) {
	assert.Equal(t, "benchmarks/cord_gpt-4o_true_1.0_failures.txt", FailuresPath("benchmarks/cord_gpt-4o_true_1.0.json"))
}

func TestOpenWritesEmptyMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "run.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(FailuresPath(path), []byte("old\tOCR\tstale\n"), 0o644))

	s, err := Open(path, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	failures, err := LoadFailures(s.FailuresPath())
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestPutRewritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	s, err := Open(path, nil)
	require.NoError(t, err)

	rec := NewResultRecord(1500*time.Millisecond, 2*time.Second, metrics.Result{KVF1Fuzzy: 1, TotalGTPairs: 3})
	require.NoError(t, s.Put("001", rec))
	require.NoError(t, s.Put("002", ResultRecord{}))

	err = s.Put("001", ResultRecord{})
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 2, s.Len())

	loaded, err := LoadResults(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, rec, loaded["001"])
	assert.Equal(t, 1.5, loaded["001"].OCRLatency)

	// flat JSON shape with pretty printing
	var raw map[string]map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw["001"], "ocr_latency")
	assert.Contains(t, raw["001"], "kv_f1_fuzzy")
	assert.Contains(t, raw["001"], "exact_accuracy")
	assert.Contains(t, string(data), "\n  \"001\": {\n")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "tmp-")
	}
}

func TestAppendFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	s, err := Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, s.AppendFailure(FailureEntry{FileID: "007", Kind: constants.FailureOCRTimeout, Detail: "timed out"}))
	require.NoError(t, s.AppendFailure(FailureEntry{FileID: "008", Kind: constants.FailureLLM, Detail: "bad\tgateway\nretry later"}))

	data, err := os.ReadFile(s.FailuresPath())
	require.NoError(t, err)
	assert.Equal(t, "007\tOCR_TIMEOUT\ttimed out\n008\tLLM\tbad gateway retry later\n", string(data))

	failures, err := LoadFailures(s.FailuresPath())
	require.NoError(t, err)
	assert.Equal(t, []FailureEntry{
		{FileID: "007", Kind: constants.FailureOCRTimeout, Detail: "timed out"},
		{FileID: "008", Kind: constants.FailureLLM, Detail: "bad gateway retry later"},
	}, failures)
}

func TestOpenReplacesPreviousRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	first, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Put("001", NewResultRecord(time.Second, time.Second, metrics.Result{})))
	require.NoError(t, first.AppendFailure(FailureEntry{FileID: "002", Kind: constants.FailureOCR, Detail: "boom"}))

	second, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, second.AppendFailure(FailureEntry{FileID: "003", Kind: constants.FailureLLM, Detail: "bad json"}))

	results, err := LoadResults(path)
	require.NoError(t, err)
	assert.Empty(t, results)

	failures, err := LoadFailures(second.FailuresPath())
	require.NoError(t, err)
	assert.Equal(t, []FailureEntry{{FileID: "003", Kind: constants.FailureLLM, Detail: "bad json"}}, failures)
}

func TestLoadFailuresMissingFile(t *testing.T) {
	failures, err := LoadFailures(filepath.Join(t.TempDir(), "none.txt"))
	require.NoError(t, err)
	assert.Nil(t, failures)
}

func TestLoadResultsErrors(t *testing.T) {
	_, err := LoadResults(filepath.Join(t.TempDir(), "none.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadResults(path)
	require.Error(t, err)
}

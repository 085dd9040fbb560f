package export

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docbench/constants"
	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/store"
)

func TestResultsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cord_m_true_1.0.json")
	s, err := store.Open(path, nil)
	require.NoError(t, err)

	full := metrics.Compute(metrics.KV{{Key: "total", Value: "5"}}, metrics.KV{{Key: "total", Value: "5"}}, metrics.DefaultThreshold, metrics.DefaultTau)
	require.NoError(t, s.Put("b", store.NewResultRecord(2*time.Second, 4*time.Second, full)))
	require.NoError(t, s.Put("a", store.NewResultRecord(time.Second, 2*time.Second, metrics.Result{})))
	require.NoError(t, s.AppendFailure(store.FailureEntry{FileID: "c", Kind: constants.FailureLLMTimeout, Detail: "timed out"}))

	data, err := NewService(nil).ResultsXLSX(path)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetResults)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "File ID", rows[0][0])
	assert.Len(t, rows[0], len(resultHeaders))
	assert.Equal(t, "a", rows[1][0])
	assert.Equal(t, "b", rows[2][0])
	assert.Equal(t, "1", rows[2][7])

	failures, err := f.GetRows(SheetFailures)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, []string{"c", "LLM_TIMEOUT", "timed out"}, failures[1])

	runScore, err := f.GetCellValue(SheetSummary, "B2")
	require.NoError(t, err)
	assert.Equal(t, "0.5", runScore)
	latency, err := f.GetCellValue(SheetSummary, "B5")
	require.NoError(t, err)
	assert.Equal(t, "1.5", latency)
}

func TestResultsXLSXMissingFile(t *testing.T) {
	_, err := NewService(nil).ResultsXLSX(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

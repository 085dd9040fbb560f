package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbench/internal/dataset"
	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", "", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeResults(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "generic_m_false_0.0.json")
	s, err := store.Open(path, nil)
	require.NoError(t, err)
	perfect := metrics.Result{KVF1Fuzzy: 1, KVF1Exact: 1, CanonicalF1: 1, ValueQualityScore: 1}
	require.NoError(t, s.Put("file-good", store.NewResultRecord(time.Second, 2*time.Second, perfect)))
	require.NoError(t, s.Put("file-bad", store.NewResultRecord(time.Second, 2*time.Second, metrics.Result{})))
	return path
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"run", "split", "fewshot", "score", "top", "eval", "export", "watch", "runs"} {
		assert.True(t, names[name], "missing subcommand %q", name)
	}
}

func TestScoreCommand(t *testing.T) {
	out, err := execute(t, "score", writeResults(t))
	require.NoError(t, err)
	assert.Equal(t, "0.5000\n", out)
}

func TestTopCommand(t *testing.T) {
	path := writeResults(t)

	out, err := execute(t, "top", path, "-n", "1", "--mode", "worst")
	require.NoError(t, err)
	assert.Contains(t, out, "file-bad")
	assert.NotContains(t, out, "file-good")

	_, err = execute(t, "top", path, "--mode", "middle")
	require.Error(t, err)
}

func TestEvalCommand(t *testing.T) {
	dir := t.TempDir()
	gt := filepath.Join(dir, "gt.json")
	pred := filepath.Join(dir, "pred.json")
	require.NoError(t, os.WriteFile(gt, []byte(`{"total": "5.00"}`), 0o644))
	require.NoError(t, os.WriteFile(pred, []byte(`{"total": "5.00"}`), 0o644))

	out, err := execute(t, "eval", gt, pred, "--dataset", "generic")
	require.NoError(t, err)
	assert.Contains(t, out, "KV F1")
	assert.Contains(t, out, "1.0000")
	assert.Contains(t, out, "Pairs (GT / pred):   1 / 1")
}

func TestSplitCommand(t *testing.T) {
	root := t.TempDir()
	annotations := filepath.Join(root, "generic", "annotations")
	require.NoError(t, os.MkdirAll(annotations, 0o755))
	for _, id := range []string{"001", "002", "003", "004"} {
		require.NoError(t, os.WriteFile(filepath.Join(annotations, id+".json"), []byte(`{}`), 0o644))
	}
	t.Setenv("DOCBENCH_DATASETS_DIR", root)

	out, err := execute(t, "split", "--dataset", "generic", "--train-size", "1", "--seed", "7")
	require.NoError(t, err)

	var split splitFile
	require.NoError(t, json.Unmarshal([]byte(out), &split))
	assert.Equal(t, "generic", split.Dataset)
	assert.Equal(t, int64(7), split.Seed)
	assert.Len(t, split.Train, 1)
	assert.Len(t, split.Test, 3)
	assert.ElementsMatch(t, []string{"001", "002", "003", "004"}, append(split.Train, split.Test...))
}

func TestExportCommand(t *testing.T) {
	path := writeResults(t)
	out, err := execute(t, "export", path)
	require.NoError(t, err)

	xlsx := filepath.Join(filepath.Dir(path), "generic_m_false_0.0.xlsx")
	assert.Contains(t, out, xlsx)
	assert.FileExists(t, xlsx)
}

func TestRunsRequiresLedger(t *testing.T) {
	t.Setenv("DOCBENCH_LEDGER_DSN", "")
	_, err := execute(t, "runs")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "", "warn", "error"} {
		_, err := newLogger(level)
		assert.NoError(t, err, level)
	}
	_, err := newLogger("loud")
	assert.Error(t, err)
}

func TestResolveFileSet(t *testing.T) {
	splitPath := filepath.Join(t.TempDir(), "split.json")
	require.NoError(t, os.WriteFile(splitPath, []byte(`{"train":["a"],"test":["b","c"]}`), 0o644))

	ids, err := resolveFileSet(dataset.Layout{}, []string{"x"}, splitPath, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids)

	ids, err = resolveFileSet(dataset.Layout{}, nil, splitPath, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)

	ids, err = resolveFileSet(dataset.Layout{}, nil, splitPath, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	_, err = resolveFileSet(dataset.Layout{}, nil, "", true)
	require.Error(t, err)
}

// Package store persists benchmark outcomes: a results map rewritten in
// full after every success, and an append-only tab-separated failure log.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/docbench/constants"
	"github.com/joseph-ayodele/docbench/internal/metrics"
)

// ResultRecord is one successfully scored file. Latencies are seconds.
type ResultRecord struct {
	OCRLatency float64 `json:"ocr_latency"`
	LLMLatency float64 `json:"llm_latency"`
	metrics.Result
}

// NewResultRecord builds a record from stage latencies and metrics.
func NewResultRecord(ocr, llm time.Duration, m metrics.Result) ResultRecord {
	return ResultRecord{OCRLatency: ocr.Seconds(), LLMLatency: llm.Seconds(), Result: m}
}

// FailureEntry is one line of the failure log.
type FailureEntry struct {
	FileID string
	Kind   constants.FailureKind
	Detail string
}

// ErrDuplicate is returned by Put for a file id that already has a record.
var ErrDuplicate = errors.New("result already recorded")

// FailuresPath derives the failure log path from a results path.
func FailuresPath(resultsPath string) string {
	return strings.TrimSuffix(resultsPath, ".json") + "_failures.txt"
}

// Store owns both output files of one run.
type Store struct {
	mu           sync.Mutex
	resultsPath  string
	failuresPath string
	results      map[string]ResultRecord
	logger       *slog.Logger
}

// Open prepares the output directory, writes an empty results map and
// truncates the failure log. Rerunning with the same results path replaces
// both files, so a results/failures pair always describes one run.
func Open(resultsPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(resultsPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(resultsPath), err)
	}
	s := &Store{
		resultsPath:  resultsPath,
		failuresPath: FailuresPath(resultsPath),
		results:      map[string]ResultRecord{},
		logger:       logger,
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.failuresPath, nil, 0o644); err != nil {
		return nil, fmt.Errorf("reset failures file: %w", err)
	}
	logger.Info("store.opened", "results_path", s.resultsPath, "failures_path", s.failuresPath)
	return s, nil
}

func (s *Store) ResultsPath() string  { return s.resultsPath }
func (s *Store) FailuresPath() string { return s.failuresPath }

// Put inserts a record and rewrites the results file. A second Put for the
// same file id is rejected with ErrDuplicate and leaves the file untouched.
func (s *Store) Put(fileID string, rec ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[fileID]; ok {
		return fmt.Errorf("%s: %w", fileID, ErrDuplicate)
	}
	s.results[fileID] = rec
	if err := s.persist(); err != nil {
		s.logger.Error("store.results.persist_failed", "file_id", fileID, "err", err)
		return err
	}
	return nil
}

// Len is the number of recorded results.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Results returns a copy of the recorded results.
func (s *Store) Results() map[string]ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ResultRecord, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// AppendFailure adds one line to the failure log. Tabs and newlines in the
// detail are flattened so every entry stays on one line with three columns.
func (s *Store) AppendFailure(e FailureEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.failuresPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failures file: %w", err)
	}
	defer f.Close()

	detail := strings.NewReplacer("\t", " ", "\r", " ", "\n", " ").Replace(e.Detail)
	if _, err := fmt.Fprintf(f, "%s\t%s\t%s\n", e.FileID, e.Kind, detail); err != nil {
		return fmt.Errorf("append failure: %w", err)
	}
	return nil
}

// persist writes the map to a temp file and renames it over the results
// file so concurrent readers never observe a partial write.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	dir := filepath.Dir(s.resultsPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.resultsPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp results: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp results: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.resultsPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename temp results: %w", err)
	}
	return nil
}

// LoadResults reads a results file.
func LoadResults(path string) (map[string]ResultRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	out := map[string]ResultRecord{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode results %s: %w", path, err)
	}
	return out, nil
}

// LoadFailures reads a failure log. A missing file means no failures.
func LoadFailures(path string) ([]FailureEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open failures: %w", err)
	}
	defer f.Close()

	var out []FailureEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		e := FailureEntry{FileID: parts[0]}
		if len(parts) > 1 {
			e.Kind = constants.FailureKind(parts[1])
		}
		if len(parts) > 2 {
			e.Detail = parts[2]
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan failures: %w", err)
	}
	return out, nil
}

// Package watch follows a benchmark output directory and reports the state
// of each results file as runs rewrite it.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/store"
)

const failuresSuffix = "_failures.txt"

type Config struct {
	Dir         string        // benchmark output directory
	InitialScan bool          // if true, emit a snapshot for every existing results file
	Debounce    time.Duration // coalesce rapid rewrite bursts
}

// Snapshot is the state of one results file at a point in time.
type Snapshot struct {
	ResultsPath string
	Scored      int
	Failed      int
	Score       float64
	At          time.Time
}

// Start watches cfg.Dir. Snapshots are emitted after each burst of writes to
// a results file or its failure log. Both channels close when ctx ends.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (<-chan Snapshot, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, nil, errors.New("watch: no directory provided")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("watch.create_failed", "error", err)
		return nil, nil, err
	}
	if err := w.Add(cfg.Dir); err != nil {
		logger.Error("watch.add_failed", "dir", cfg.Dir, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	snapCh := make(chan Snapshot, 64)
	errCh := make(chan error, 1)

	var initial []string
	if cfg.InitialScan {
		initial, err = existingResults(cfg.Dir)
		if err != nil {
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		defer close(snapCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("watch.close_failed", "error", err)
			}
		}()

		emit := func(path string) bool {
			snap, err := Take(path)
			if err != nil {
				// vanished between the event and the read
				logger.Debug("watch.snapshot_skipped", "path", path, "error", err)
				return true
			}
			select {
			case snapCh <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		pending := map[string]struct{}{}
		var timer *time.Timer
		var fire <-chan time.Time

		flush := func() bool {
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
				delete(pending, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				if !emit(p) {
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				path, ok := resultsPathFor(e.Name)
				if !ok || e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				pending[path] = struct{}{}
				if cfg.Debounce <= 0 {
					if !flush() {
						return
					}
					continue
				}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				} else {
					timer.Reset(cfg.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if !flush() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watch.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return snapCh, errCh, nil
}

// Take reads a results file and its failure log.
func Take(resultsPath string) (Snapshot, error) {
	records, err := store.LoadResults(resultsPath)
	if err != nil {
		return Snapshot{}, err
	}
	failures, err := store.LoadFailures(store.FailuresPath(resultsPath))
	if err != nil {
		return Snapshot{}, err
	}
	scores := make(map[string]metrics.Result, len(records))
	for id, r := range records {
		scores[id] = r.Result
	}
	return Snapshot{
		ResultsPath: resultsPath,
		Scored:      len(records),
		Failed:      len(failures),
		Score:       metrics.MeanScore(scores),
		At:          time.Now(),
	}, nil
}

// resultsPathFor maps an event path to the results file it belongs to.
// Hidden files (the store's temp files) are ignored.
func resultsPathFor(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	switch {
	case strings.HasSuffix(base, failuresSuffix):
		return strings.TrimSuffix(name, failuresSuffix) + ".json", true
	case strings.EqualFold(filepath.Ext(base), ".json"):
		return name, true
	}
	return "", false
}

func existingResults(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if p, ok := resultsPathFor(filepath.Join(dir, e.Name())); ok && p == filepath.Join(dir, e.Name()) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

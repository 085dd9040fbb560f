package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbench/constants"
	"github.com/joseph-ayodele/docbench/internal/dataset"
	"github.com/joseph-ayodele/docbench/internal/extract"
	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/ratelimit"
	"github.com/joseph-ayodele/docbench/internal/store"
)

type fixture struct {
	layout dataset.Layout
	store  *store.Store
	tasks  []dataset.FileTask
}

// newFixture lays out a generic dataset where every file's ground truth is
// {"total": "5"} and its image bytes are the file id.
func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	l := dataset.NewLayout(root, "generic")
	require.NoError(t, os.MkdirAll(l.ImagesDir(), 0o755))
	require.NoError(t, os.MkdirAll(l.AnnotationsDir(), 0o755))
	for _, id := range ids {
		require.NoError(t, os.WriteFile(filepath.Join(l.ImagesDir(), id+".png"), []byte(id), 0o644))
		require.NoError(t, os.WriteFile(l.AnnotationPath(id), []byte(`{"total": "5"}`), 0o644))
	}
	s, err := store.Open(filepath.Join(root, "out", "generic_m_false_1.0.json"), nil)
	require.NoError(t, err)
	return &fixture{layout: l, store: s, tasks: l.Tasks(ids)}
}

func (f *fixture) scheduler(ocr extract.OCRAdapter, llm extract.LLMAdapter, opts ...Option) *Scheduler {
	opts = append([]Option{WithPollInterval(5 * time.Millisecond)}, opts...)
	return New(ocr, llm, ratelimit.NewLimiter(0), f.store, metrics.NewEvaluator("generic"), nil, opts...)
}

func (f *fixture) failures(t *testing.T) []store.FailureEntry {
	t.Helper()
	entries, err := store.LoadFailures(f.store.FailuresPath())
	require.NoError(t, err)
	return entries
}

func (f *fixture) results(t *testing.T) map[string]store.ResultRecord {
	t.Helper()
	results, err := store.LoadResults(f.store.ResultsPath())
	require.NoError(t, err)
	return results
}

// assertAccounted checks that every file is in exactly one output.
func (f *fixture) assertAccounted(t *testing.T, rep Report) {
	t.Helper()
	results := f.results(t)
	failures := f.failures(t)
	assert.Equal(t, len(f.tasks), len(results)+len(failures))
	assert.Equal(t, len(results), rep.Succeeded)
	assert.Equal(t, len(failures), rep.Failed)
	assert.Equal(t, len(f.tasks), rep.Total)
	for _, fe := range failures {
		_, ok := results[fe.FileID]
		assert.False(t, ok, "file %s is in both outputs", fe.FileID)
	}
}

func echoOCR(calls *atomic.Int32) extract.OCRFunc {
	return func(_ context.Context, image []byte) (string, time.Duration, error) {
		calls.Add(1)
		return "TOTAL " + string(image), 10 * time.Millisecond, nil
	}
}

func fixedLLM(calls *atomic.Int32, value string) extract.LLMFunc {
	return func(_ context.Context, _ extract.LLMRequest) (json.RawMessage, time.Duration, error) {
		calls.Add(1)
		return json.RawMessage(value), 20 * time.Millisecond, nil
	}
}

func TestRunScoresEveryFile(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	var ocrCalls, llmCalls atomic.Int32
	var mu sync.Mutex
	seen := map[string]extract.LLMRequest{}
	llm := extract.LLMFunc(func(_ context.Context, req extract.LLMRequest) (json.RawMessage, time.Duration, error) {
		llmCalls.Add(1)
		mu.Lock()
		seen[req.UserText] = req
		mu.Unlock()
		return json.RawMessage(`{"total": "5"}`), 20 * time.Millisecond, nil
	})

	s := f.scheduler(echoOCR(&ocrCalls), llm)
	rep, err := s.Run(context.Background(), f.tasks, ExtractionRequest{SystemPrompt: "sys", Model: "m", Temperature: 0.3})
	require.NoError(t, err)

	assert.Equal(t, Report{ResultsPath: f.store.ResultsPath(), FailuresPath: f.store.FailuresPath(), Total: 3, Succeeded: 3}, rep)
	assert.Equal(t, int32(3), ocrCalls.Load())
	assert.Equal(t, int32(3), llmCalls.Load())
	f.assertAccounted(t, rep)

	results := f.results(t)
	require.Len(t, results, 3)
	assert.Equal(t, 1.0, results["a"].Score())
	assert.InDelta(t, 0.01, results["a"].OCRLatency, 1e-9)
	assert.InDelta(t, 0.02, results["a"].LLMLatency, 1e-9)

	require.Contains(t, seen, "TOTAL b")
	assert.Equal(t, "sys", seen["TOTAL b"].SystemPrompt)
	assert.Equal(t, "m", seen["TOTAL b"].Model)
	assert.Equal(t, 0.3, seen["TOTAL b"].Temperature)
}

func TestRunEmpty(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	rep, err := f.scheduler(echoOCR(&calls), fixedLLM(&calls, `{}`)).Run(context.Background(), nil, ExtractionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Total)
	assert.Zero(t, calls.Load())
}

func TestRunOCRAlwaysFails(t *testing.T) {
	f := newFixture(t, "a", "b")
	var ocrCalls, llmCalls atomic.Int32
	ocr := extract.OCRFunc(func(_ context.Context, _ []byte) (string, time.Duration, error) {
		ocrCalls.Add(1)
		return "", 0, errors.New("service unavailable")
	})

	rep, err := f.scheduler(ocr, fixedLLM(&llmCalls, `{}`)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, int32(6), ocrCalls.Load())
	assert.Zero(t, llmCalls.Load())
	f.assertAccounted(t, rep)

	failures := f.failures(t)
	require.Len(t, failures, 2)
	for _, fe := range failures {
		assert.Equal(t, constants.FailureOCR, fe.Kind)
		assert.Equal(t, "service unavailable", fe.Detail)
	}
}

func TestRunExtractionRetriesReuseOCR(t *testing.T) {
	f := newFixture(t, "a")
	var ocrCalls, llmCalls atomic.Int32
	var texts []string
	var mu sync.Mutex
	llm := extract.LLMFunc(func(_ context.Context, req extract.LLMRequest) (json.RawMessage, time.Duration, error) {
		llmCalls.Add(1)
		mu.Lock()
		texts = append(texts, req.UserText)
		mu.Unlock()
		return nil, 0, errors.New("rate limited")
	})

	rep, err := f.scheduler(echoOCR(&ocrCalls), llm).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), ocrCalls.Load())
	assert.Equal(t, int32(3), llmCalls.Load())
	assert.Equal(t, []string{"TOTAL a", "TOTAL a", "TOTAL a"}, texts)
	f.assertAccounted(t, rep)

	failures := f.failures(t)
	require.Len(t, failures, 1)
	assert.Equal(t, constants.FailureLLM, failures[0].Kind)
}

func TestRunRecoversAfterRetries(t *testing.T) {
	f := newFixture(t, "a", "b")
	var mu sync.Mutex
	attempts := map[string]int{}
	ocr := extract.OCRFunc(func(_ context.Context, image []byte) (string, time.Duration, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts[string(image)]++
		if attempts[string(image)] <= 2 {
			return "", 0, errors.New("flaky")
		}
		return "ok", time.Millisecond, nil
	})
	var llmCalls atomic.Int32

	rep, err := f.scheduler(ocr, fixedLLM(&llmCalls, `{"total": "5"}`)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, map[string]int{"a": 3, "b": 3}, attempts)
	assert.Empty(t, f.failures(t))
}

func TestRunOCRTimeout(t *testing.T) {
	f := newFixture(t, "a")
	var calls atomic.Int32
	ocr := extract.OCRFunc(func(ctx context.Context, _ []byte) (string, time.Duration, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", 0, ctx.Err()
	})
	var llmCalls atomic.Int32

	s := f.scheduler(ocr, fixedLLM(&llmCalls, `{}`), WithStageTimeouts(30*time.Millisecond, time.Second))
	rep, err := s.Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, llmCalls.Load())
	f.assertAccounted(t, rep)
	failures := f.failures(t)
	require.Len(t, failures, 1)
	assert.Equal(t, store.FailureEntry{FileID: "a", Kind: constants.FailureOCRTimeout, Detail: "timed out"}, failures[0])
}

func TestRunExtractionTimeout(t *testing.T) {
	f := newFixture(t, "a", "b")
	var ocrCalls, llmCalls atomic.Int32
	llm := extract.LLMFunc(func(ctx context.Context, _ extract.LLMRequest) (json.RawMessage, time.Duration, error) {
		llmCalls.Add(1)
		<-ctx.Done()
		return nil, 0, ctx.Err()
	})

	s := f.scheduler(echoOCR(&ocrCalls), llm, WithStageTimeouts(time.Second, 30*time.Millisecond))
	rep, err := s.Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), ocrCalls.Load())
	assert.Equal(t, int32(6), llmCalls.Load())
	f.assertAccounted(t, rep)
	for _, fe := range f.failures(t) {
		assert.Equal(t, constants.FailureLLMTimeout, fe.Kind)
	}
}

func TestRunMissingImage(t *testing.T) {
	f := newFixture(t, "a")
	f.tasks = append(f.tasks, dataset.FileTask{FileID: "ghost", AnnotationPath: f.layout.AnnotationPath("ghost")})
	var ocrCalls, llmCalls atomic.Int32

	rep, err := f.scheduler(echoOCR(&ocrCalls), fixedLLM(&llmCalls, `{"total": "5"}`)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), ocrCalls.Load())
	f.assertAccounted(t, rep)
	failures := f.failures(t)
	require.Len(t, failures, 1)
	assert.Equal(t, "ghost", failures[0].FileID)
	assert.Equal(t, constants.FailureOCR, failures[0].Kind)
}

func TestRunAnnotationFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, "a", "b")
	require.NoError(t, os.Remove(f.layout.AnnotationPath("a")))
	require.NoError(t, os.WriteFile(f.layout.AnnotationPath("b"), []byte(`[1, 2]`), 0o644))
	var ocrCalls, llmCalls atomic.Int32

	rep, err := f.scheduler(echoOCR(&ocrCalls), fixedLLM(&llmCalls, `{"total": "5"}`)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), llmCalls.Load())
	f.assertAccounted(t, rep)
	failures := f.failures(t)
	require.Len(t, failures, 2)
	for _, fe := range failures {
		assert.Equal(t, constants.FailureAnnotation, fe.Kind)
	}
}

func TestRunUnscorablePredictionIsRetried(t *testing.T) {
	f := newFixture(t, "a")
	var ocrCalls, llmCalls atomic.Int32

	rep, err := f.scheduler(echoOCR(&ocrCalls), fixedLLM(&llmCalls, `"not an object"`)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, int32(3), llmCalls.Load())
	f.assertAccounted(t, rep)
	failures := f.failures(t)
	require.Len(t, failures, 1)
	assert.Equal(t, constants.FailureLLM, failures[0].Kind)
}

func TestRunMaxRetriesZero(t *testing.T) {
	f := newFixture(t, "a")
	var calls atomic.Int32
	ocr := extract.OCRFunc(func(_ context.Context, _ []byte) (string, time.Duration, error) {
		calls.Add(1)
		return "", 0, errors.New("boom")
	})
	var llmCalls atomic.Int32

	_, err := f.scheduler(ocr, fixedLLM(&llmCalls, `{}`), WithMaxRetries(0)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunMaxRetriesCapped(t *testing.T) {
	f := newFixture(t, "a")
	var calls atomic.Int32
	ocr := extract.OCRFunc(func(_ context.Context, _ []byte) (string, time.Duration, error) {
		calls.Add(1)
		return "", 0, errors.New("boom")
	})
	var llmCalls atomic.Int32

	_, err := f.scheduler(ocr, fixedLLM(&llmCalls, `{}`), WithMaxRetries(5)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(1+DefaultMaxRetries), calls.Load())
	assert.Equal(t, int32(0), llmCalls.Load())
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 3)
	ocr := extract.OCRFunc(func(ctx context.Context, _ []byte) (string, time.Duration, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", 0, ctx.Err()
	})
	var llmCalls atomic.Int32

	go func() {
		for i := 0; i < 3; i++ {
			<-started
		}
		cancel()
	}()

	rep, err := f.scheduler(ocr, fixedLLM(&llmCalls, `{}`)).Run(ctx, f.tasks, ExtractionRequest{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, rep.Failed)
	f.assertAccounted(t, rep)

	ids := make([]string, 0, 3)
	for _, fe := range f.failures(t) {
		assert.Equal(t, constants.FailureCancelled, fe.Kind)
		ids = append(ids, fe.FileID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRunBoundsOCRConcurrency(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d", "e", "f")
	var active, peak atomic.Int32
	ocr := extract.OCRFunc(func(_ context.Context, _ []byte) (string, time.Duration, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return "x", 0, nil
	})
	var llmCalls atomic.Int32

	rep, err := f.scheduler(ocr, fixedLLM(&llmCalls, `{"total": "5"}`), WithOCRWorkers(2)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunSpacesOCRDispatch(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	var mu sync.Mutex
	var starts []time.Time
	ocr := extract.OCRFunc(func(_ context.Context, _ []byte) (string, time.Duration, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return "x", 0, nil
	})
	var llmCalls atomic.Int32

	s := New(ocr, fixedLLM(&llmCalls, `{"total": "5"}`), ratelimit.NewLimiter(25*time.Millisecond), f.store, metrics.NewEvaluator("generic"), nil)
	_, err := s.Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	require.Len(t, starts, 3)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	assert.GreaterOrEqual(t, starts[2].Sub(starts[0]), 40*time.Millisecond)
}

func TestRunRecordsMetrics(t *testing.T) {
	f := newFixture(t, "a", "b")
	require.NoError(t, os.Remove(f.layout.AnnotationPath("b")))
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	var ocrCalls, llmCalls atomic.Int32

	_, err := f.scheduler(echoOCR(&ocrCalls), fixedLLM(&llmCalls, `{"total": "5"}`), WithMetrics(m)).Run(context.Background(), f.tasks, ExtractionRequest{})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues(string(constants.StageOCR))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues(string(constants.StageExtract))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Completed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues(string(constants.FailureAnnotation))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight.WithLabelValues(string(constants.StageOCR))))
}

func TestRunRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, nil).Run(context.Background(), nil, ExtractionRequest{})
	assert.Error(t, err)
}

// Package scheduler drives every requested file through OCR, then
// extraction, then scoring, with bounded retries and per-stage deadlines.
//
// A single coordinator goroutine owns all run state: the in-flight attempt
// table, retry counters, the OCR text cache and the result store writes.
// Workers only perform provider calls and report back on a channel.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joseph-ayodele/docbench/constants"
	"github.com/joseph-ayodele/docbench/internal/common"
	"github.com/joseph-ayodele/docbench/internal/dataset"
	"github.com/joseph-ayodele/docbench/internal/extract"
	"github.com/joseph-ayodele/docbench/internal/metrics"
	"github.com/joseph-ayodele/docbench/internal/ratelimit"
	"github.com/joseph-ayodele/docbench/internal/store"
)

// Evaluator scores a prediction against its ground truth. Errors wrapping
// metrics.ErrGroundTruth are annotation failures; any other error is an
// extraction failure.
type Evaluator interface {
	Evaluate(groundTruth, prediction []byte) (metrics.Result, error)
}

// ExtractionRequest is what every extraction attempt of a run sends; only
// the user text (the OCR output) varies per file.
type ExtractionRequest struct {
	SystemPrompt string
	Schema       extract.Schema
	Model        string
	Temperature  float64
}

// Report summarizes a finished run. Succeeded + Failed == Total.
type Report struct {
	ResultsPath  string
	FailuresPath string
	Total        int
	Succeeded    int
	Failed       int
}

type Scheduler struct {
	ocr       extract.OCRAdapter
	llm       extract.LLMAdapter
	limiter   *ratelimit.Limiter
	results   *store.Store
	evaluator Evaluator
	logger    *slog.Logger
	metrics   *Metrics

	ocrWorkers   int
	llmWorkers   int
	ocrTimeout   time.Duration
	llmTimeout   time.Duration
	pollInterval time.Duration
	maxRetries   int

	readImage      func(path string) ([]byte, error)
	loadAnnotation func(path string) ([]byte, error)
}

func New(ocr extract.OCRAdapter, llm extract.LLMAdapter, limiter *ratelimit.Limiter, results *store.Store, evaluator Evaluator, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		ocr:            ocr,
		llm:            llm,
		limiter:        limiter,
		results:        results,
		evaluator:      evaluator,
		logger:         logger,
		ocrWorkers:     DefaultWorkers,
		llmWorkers:     DefaultWorkers,
		ocrTimeout:     DefaultOCRTimeout,
		llmTimeout:     DefaultLLMTimeout,
		pollInterval:   DefaultPollInterval,
		maxRetries:     DefaultMaxRetries,
		readImage:      os.ReadFile,
		loadAnnotation: dataset.LoadAnnotation,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

type attempt struct {
	id        uint64
	fileID    string
	stage     constants.Stage
	startedAt time.Time
	retry     int
	cancel    context.CancelFunc
}

type completion struct {
	attemptID uint64
	text      string
	value     json.RawMessage
	latency   time.Duration
	err       error
}

type fileState struct {
	task       dataset.FileTask
	ocrRetries int
	llmRetries int
	ocrText    string
	ocrLatency time.Duration
	done       bool
}

// run is the state of one Run call, touched only by the coordinator.
type run struct {
	s      *Scheduler
	ctx    context.Context
	req    ExtractionRequest
	logger *slog.Logger

	order    []string
	files    map[string]*fileState
	inflight map[uint64]*attempt
	nextID   uint64

	ocrDone chan completion
	llmDone chan completion
	done    chan struct{}
	ocrSem  chan struct{}
	llmSem  chan struct{}

	succeeded int
	failed    int
}

// Run processes every task and returns once each file has either a result
// record or a failure entry. Provider errors never escape; the returned
// error is non-nil only when ctx ends first, in which case unfinished files
// are recorded as CANCELLED.
func (s *Scheduler) Run(ctx context.Context, tasks []dataset.FileTask, req ExtractionRequest) (Report, error) {
	if s.ocr == nil || s.llm == nil || s.results == nil || s.evaluator == nil {
		return Report{}, common.NewAppError("SCHEDULER_ERROR", "scheduler is missing an adapter, store or evaluator", common.ErrInvalidInput)
	}

	r := &run{
		s:        s,
		ctx:      ctx,
		req:      req,
		logger:   common.LoggerFromContext(ctx, s.logger),
		files:    make(map[string]*fileState, len(tasks)),
		inflight: make(map[uint64]*attempt),
		ocrDone:  make(chan completion, s.ocrWorkers),
		llmDone:  make(chan completion, s.llmWorkers),
		done:     make(chan struct{}),
		ocrSem:   make(chan struct{}, s.ocrWorkers),
		llmSem:   make(chan struct{}, s.llmWorkers),
	}
	defer close(r.done)

	for _, t := range tasks {
		if _, dup := r.files[t.FileID]; dup {
			r.logger.Warn("scheduler.task.duplicate", "file_id", t.FileID)
			continue
		}
		r.files[t.FileID] = &fileState{task: t}
		r.order = append(r.order, t.FileID)
	}

	start := time.Now()
	r.logger.Info("scheduler.run.start",
		"files", len(r.order),
		"model", req.Model,
		"ocr_workers", s.ocrWorkers,
		"llm_workers", s.llmWorkers,
	)

	for _, id := range r.order {
		r.dispatch(r.files[id], constants.StageOCR)
	}

	err := r.loop()

	rep := Report{
		ResultsPath:  s.results.ResultsPath(),
		FailuresPath: s.results.FailuresPath(),
		Total:        len(r.order),
		Succeeded:    r.succeeded,
		Failed:       r.failed,
	}
	r.logger.Info("scheduler.run.done",
		"total", rep.Total,
		"succeeded", rep.Succeeded,
		"failed", rep.Failed,
		"results_path", rep.ResultsPath,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rep, err
}

func (r *run) loop() error {
	ticker := time.NewTicker(r.s.pollInterval)
	defer ticker.Stop()

	for len(r.inflight) > 0 && r.ctx.Err() == nil {
		select {
		case c := <-r.ocrDone:
			r.onOCR(c)
		case c := <-r.llmDone:
			r.onExtract(c)
		case now := <-ticker.C:
			r.sweep(now)
		case <-r.ctx.Done():
		}
	}
	if err := r.ctx.Err(); err != nil && r.succeeded+r.failed < len(r.order) {
		r.abandon(err)
		return err
	}
	return nil
}

// dispatch starts a new attempt of stage for fs. The worker goroutine waits
// for a pool slot itself, so the attempt's clock includes queueing.
func (r *run) dispatch(fs *fileState, stage constants.Stage) {
	r.nextID++
	retry := fs.ocrRetries
	if stage == constants.StageExtract {
		retry = fs.llmRetries
	}
	actx, cancel := context.WithCancel(common.WithFileID(r.ctx, fs.task.FileID))
	a := &attempt{
		id:        r.nextID,
		fileID:    fs.task.FileID,
		stage:     stage,
		startedAt: time.Now(),
		retry:     retry,
		cancel:    cancel,
	}
	r.inflight[a.id] = a
	r.s.metrics.dispatched(stage, retry > 0)

	r.logger.Debug("scheduler.attempt.dispatch",
		"file_id", a.fileID,
		"stage", stage,
		"attempt", a.id,
		"retry", retry,
	)

	switch stage {
	case constants.StageOCR:
		go r.ocrWorker(actx, a.id, fs.task.FileID, fs.task.ImagePath)
	case constants.StageExtract:
		go r.extractWorker(actx, a.id, fs.ocrText)
	}
}

func (r *run) ocrWorker(ctx context.Context, id uint64, fileID, imagePath string) {
	c := completion{attemptID: id}
	select {
	case r.ocrSem <- struct{}{}:
		defer func() { <-r.ocrSem }()
	case <-ctx.Done():
		c.err = ctx.Err()
		r.send(r.ocrDone, c)
		return
	}

	var image []byte
	var err error
	if imagePath == "" {
		err = fmt.Errorf("no image found for %s", fileID)
	} else {
		image, err = r.s.readImage(imagePath)
	}
	if err == nil {
		err = r.s.limiter.Acquire(ctx)
	}
	if err == nil {
		c.text, c.latency, err = r.s.ocr.Recognize(ctx, image)
	}
	c.err = err
	r.send(r.ocrDone, c)
}

func (r *run) extractWorker(ctx context.Context, id uint64, text string) {
	c := completion{attemptID: id}
	select {
	case r.llmSem <- struct{}{}:
		defer func() { <-r.llmSem }()
	case <-ctx.Done():
		c.err = ctx.Err()
		r.send(r.llmDone, c)
		return
	}

	c.value, c.latency, c.err = r.s.llm.Extract(ctx, extract.LLMRequest{
		SystemPrompt: r.req.SystemPrompt,
		UserText:     text,
		Schema:       r.req.Schema,
		Model:        r.req.Model,
		Temperature:  r.req.Temperature,
	})
	r.send(r.llmDone, c)
}

// send delivers a completion unless the run has already returned.
func (r *run) send(ch chan<- completion, c completion) {
	select {
	case ch <- c:
	case <-r.done:
	}
}

// settle removes a finished attempt from bookkeeping. ok is false for an
// attempt that was already abandoned.
func (r *run) settle(c completion) (*attempt, *fileState, bool) {
	a, ok := r.inflight[c.attemptID]
	if !ok {
		r.logger.Debug("scheduler.attempt.late", "attempt", c.attemptID, "error", c.err)
		return nil, nil, false
	}
	delete(r.inflight, a.id)
	a.cancel()
	r.s.metrics.settled(a.stage)
	return a, r.files[a.fileID], true
}

func (r *run) onOCR(c completion) {
	a, fs, ok := r.settle(c)
	if !ok {
		return
	}
	if c.err != nil {
		r.retryOrFail(fs, a, false, c.err)
		return
	}
	r.s.metrics.observe(constants.StageOCR, c.latency)
	fs.ocrText = c.text
	fs.ocrLatency = c.latency
	r.logger.Debug("scheduler.ocr.ok", "file_id", fs.task.FileID, "attempt", a.id, "elapsed_ms", c.latency.Milliseconds())
	r.dispatch(fs, constants.StageExtract)
}

func (r *run) onExtract(c completion) {
	a, fs, ok := r.settle(c)
	if !ok {
		return
	}
	if c.err != nil {
		r.retryOrFail(fs, a, false, c.err)
		return
	}
	r.s.metrics.observe(constants.StageExtract, c.latency)

	gt, err := r.s.loadAnnotation(fs.task.AnnotationPath)
	if err != nil {
		r.fail(fs, constants.FailureAnnotation, err.Error())
		return
	}

	m, err := r.s.evaluator.Evaluate(gt, c.value)
	switch {
	case errors.Is(err, metrics.ErrGroundTruth):
		r.fail(fs, constants.FailureAnnotation, err.Error())
		return
	case err != nil:
		r.retryOrFail(fs, a, false, err)
		return
	}

	if err := r.s.results.Put(fs.task.FileID, store.NewResultRecord(fs.ocrLatency, c.latency, m)); err != nil {
		// the record is in memory and lands on disk with the next rewrite
		r.logger.Error("scheduler.result.persist_failed", "file_id", fs.task.FileID, "error", err)
	}
	fs.done = true
	r.succeeded++
	r.s.metrics.completed()
	r.logger.Info("scheduler.file.scored",
		"file_id", fs.task.FileID,
		"score", m.Score(),
		"ocr_ms", fs.ocrLatency.Milliseconds(),
		"llm_ms", c.latency.Milliseconds(),
	)
}

// sweep abandons attempts older than their stage deadline.
func (r *run) sweep(now time.Time) {
	var expired []*attempt
	for _, a := range r.inflight {
		if now.Sub(a.startedAt) > r.timeout(a.stage) {
			expired = append(expired, a)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].id < expired[j].id })

	for _, a := range expired {
		delete(r.inflight, a.id)
		a.cancel()
		r.s.metrics.settled(a.stage)
		r.s.metrics.timedOut(a.stage)
		r.logger.Warn("scheduler.attempt.timeout",
			"file_id", a.fileID,
			"stage", a.stage,
			"attempt", a.id,
			"elapsed_ms", now.Sub(a.startedAt).Milliseconds(),
		)
		r.retryOrFail(r.files[a.fileID], a, true, nil)
	}
}

func (r *run) timeout(stage constants.Stage) time.Duration {
	if stage == constants.StageOCR {
		return r.s.ocrTimeout
	}
	return r.s.llmTimeout
}

// retryOrFail dispatches another attempt of a's stage or, once retries are
// spent, records the failure. After cancellation the file is left for
// abandon.
func (r *run) retryOrFail(fs *fileState, a *attempt, timedOut bool, cause error) {
	if r.ctx.Err() != nil {
		return
	}
	retries := &fs.ocrRetries
	if a.stage == constants.StageExtract {
		retries = &fs.llmRetries
	}
	if *retries < r.s.maxRetries {
		*retries++
		r.logger.Warn("scheduler.attempt.retry",
			"file_id", fs.task.FileID,
			"stage", a.stage,
			"attempt", a.id,
			"retry", *retries,
			"timed_out", timedOut,
			"error", cause,
		)
		r.dispatch(fs, a.stage)
		return
	}

	detail := "timed out"
	if !timedOut && cause != nil {
		detail = cause.Error()
	}
	r.fail(fs, constants.FailureKindFor(a.stage, timedOut), detail)
}

func (r *run) fail(fs *fileState, kind constants.FailureKind, detail string) {
	if err := r.s.results.AppendFailure(store.FailureEntry{FileID: fs.task.FileID, Kind: kind, Detail: detail}); err != nil {
		r.logger.Error("scheduler.failure.persist_failed", "file_id", fs.task.FileID, "error", err)
	}
	fs.done = true
	r.failed++
	r.s.metrics.failed(kind)
	r.logger.Warn("scheduler.file.failed", "file_id", fs.task.FileID, "kind", kind, "detail", detail)
}

// abandon cancels every in-flight attempt and records each unfinished file.
func (r *run) abandon(cause error) {
	for id, a := range r.inflight {
		a.cancel()
		r.s.metrics.settled(a.stage)
		delete(r.inflight, id)
	}
	for _, id := range r.order {
		fs := r.files[id]
		if !fs.done {
			r.fail(fs, constants.FailureCancelled, cause.Error())
		}
	}
	r.logger.Warn("scheduler.run.cancelled", "error", cause, "succeeded", r.succeeded, "failed", r.failed)
}

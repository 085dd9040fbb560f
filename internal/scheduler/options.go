package scheduler

import (
	"time"

	"github.com/joseph-ayodele/docbench/constants"
)

const (
	DefaultWorkers      = 30
	DefaultOCRTimeout   = 120 * time.Second
	DefaultLLMTimeout   = 90 * time.Second
	DefaultMaxRetries   = constants.MaxStageRetries
	DefaultPollInterval = 200 * time.Millisecond
)

type Option func(*Scheduler)

func WithOCRWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.ocrWorkers = n
		}
	}
}

func WithLLMWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.llmWorkers = n
		}
	}
}

// WithStageTimeouts sets how long an attempt may stay in flight per stage.
func WithStageTimeouts(ocr, llm time.Duration) Option {
	return func(s *Scheduler) {
		if ocr > 0 {
			s.ocrTimeout = ocr
		}
		if llm > 0 {
			s.llmTimeout = llm
		}
	}
}

// WithPollInterval sets how often in-flight attempts are checked against
// their deadline.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithMaxRetries sets the retries per file per stage. Zero means one attempt;
// values above DefaultMaxRetries are capped.
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxRetries = min(n, DefaultMaxRetries)
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

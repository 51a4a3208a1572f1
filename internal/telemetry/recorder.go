package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

// MetricStore persists agent metrics.
type MetricStore interface {
	InsertMetric(ctx context.Context, m domain.AgentMetric) error
}

// RecorderConfig sizes the recorder's queue and worker pool.
type RecorderConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithMeter records instruments on m instead of the global meter.
func WithMeter(m metric.Meter) RecorderOption {
	return func(r *Recorder) { r.meter = m }
}

// Recorder writes task metrics off the request path. Work arrives through a
// bounded queue drained by a fixed set of workers; nothing here ever blocks
// or fails a caller.
type Recorder struct {
	store        MetricStore
	log          *logging.Logger
	meter        metric.Meter
	writeTimeout time.Duration

	jobs chan domain.AgentMetric
	wg   sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64

	tasks    metric.Int64Counter
	duration metric.Float64Histogram
	tools    metric.Int64Counter
	tokens   metric.Int64Counter
	drops    metric.Int64Counter
}

// NewRecorder starts the worker pool.
func NewRecorder(cfg RecorderConfig, store MetricStore, log *logging.Logger, opts ...RecorderOption) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		store:        store,
		log:          log.Sub("telemetry"),
		writeTimeout: cfg.WriteTimeout,
		jobs:         make(chan domain.AgentMetric, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meter == nil {
		r.meter = Meter("parley/tasks")
	}

	// Instrument names are static; creation errors cannot occur.
	r.tasks, _ = r.meter.Int64Counter("parley.agent.tasks",
		metric.WithDescription("Agent tasks completed, by status"))
	r.duration, _ = r.meter.Float64Histogram("parley.agent.task.duration",
		metric.WithDescription("Agent task wall time (ms)"),
		metric.WithUnit("ms"))
	r.tools, _ = r.meter.Int64Counter("parley.agent.tool.usage",
		metric.WithDescription("Tool invocations requested by agent tasks"))
	r.tokens, _ = r.meter.Int64Counter("parley.agent.tokens",
		metric.WithDescription("Tokens consumed by agent tasks"))
	r.drops, _ = r.meter.Int64Counter("parley.agent.metrics.dropped",
		metric.WithDescription("Metrics dropped because the queue was full"))

	r.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go r.worker()
	}
	return r
}

// Schedule enqueues m without blocking. It returns false when the metric was
// dropped because the queue is full or the recorder is closed.
func (r *Recorder) Schedule(m domain.AgentMetric) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.closed {
		select {
		case r.jobs <- m:
			return true
		default:
		}
	}

	n := r.dropped.Add(1)
	r.drops.Add(context.Background(), 1)
	r.log.Warn().
		Str("taskId", m.TaskID).
		Int64("dropped", n).
		Bool("closed", r.closed).
		Msg("telemetry queue full, metric dropped")
	return false
}

// Record writes m to the store and updates the OTel instruments. Failures are
// logged, never returned.
func (r *Recorder) Record(ctx context.Context, m domain.AgentMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	if err := r.store.InsertMetric(ctx, m); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			r.log.Warn().Str("taskId", m.TaskID).Msg("metric already recorded for task")
			return
		}
		r.log.Error().Err(err).Str("taskId", m.TaskID).Msg("failed to persist agent metric")
	}

	status := attribute.String("status", string(m.Status))
	agent := attribute.String("agent", m.AgentName)
	r.tasks.Add(ctx, 1, metric.WithAttributes(status, agent))
	r.duration.Record(ctx, float64(m.DurationMs), metric.WithAttributes(status, agent))
	if m.TokenCount > 0 {
		r.tokens.Add(ctx, int64(m.TokenCount), metric.WithAttributes(agent))
	}
	for tool, n := range m.ToolUsage {
		r.tools.Add(ctx, int64(n), metric.WithAttributes(attribute.String("tool", tool)))
	}

	r.log.Debug().
		Str("taskId", m.TaskID).
		Str("status", string(m.Status)).
		Int64("durationMs", m.DurationMs).
		Msg("agent metric recorded")
}

// Dropped returns how many metrics were discarded so far.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting work and waits for queued metrics to be written.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for m := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		r.Record(ctx, m)
		cancel()
	}
}

package activity

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/bonds/indexer/pkg/metrics"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/utils/pkg/retry"
)

// Writer persists a batch of rows. *Store is the production Writer.
type Writer interface {
	Insert(ctx context.Context, rows []Row) error
}

type RecorderConfig struct {
	Logger *slog.Logger
	Writer Writer
	Clock  clockwork.Clock

	// FlushInterval bounds how long an event waits before it is written.
	FlushInterval time.Duration
	// BatchSize triggers a flush as soon as this many events are pending.
	BatchSize int
	// BufferSize is the capacity of the publish queue; events published
	// while it is full are dropped.
	BufferSize int
	// FlushTimeout bounds each write, including the final one on shutdown.
	FlushTimeout time.Duration
	Retry        retry.Config
}

func (cfg *RecorderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Writer == nil {
		return errors.New("writer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10_000
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Recorder is a bonds.EventSink that batches events into a Writer. Publish
// never blocks; Run owns the flushing.
type Recorder struct {
	log     *slog.Logger
	cfg     RecorderConfig
	events  chan bonds.Event
	dropped atomic.Uint64
}

var _ bonds.EventSink = (*Recorder)(nil)

func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Recorder{
		log:    cfg.Logger,
		cfg:    cfg,
		events: make(chan bonds.Event, cfg.BufferSize),
	}, nil
}

func (r *Recorder) Publish(_ context.Context, ev bonds.Event) {
	select {
	case r.events <- ev:
		metrics.ActivityEventsTotal.WithLabelValues("queued").Inc()
	default:
		r.dropped.Add(1)
		metrics.ActivityEventsTotal.WithLabelValues("dropped").Inc()
		r.log.Warn("activity: buffer full, dropping event", "op", ev.Op, "outcome", ev.Outcome)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run flushes until ctx is done, then writes whatever is still queued.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := r.cfg.Clock.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	r.log.Info("activity: recorder started", "flush_interval", r.cfg.FlushInterval, "batch_size", r.cfg.BatchSize)

	pending := make([]Row, 0, r.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx), r.drain(pending))
			r.log.Info("activity: recorder stopped")
			return nil
		case ev := <-r.events:
			pending = append(pending, RowFromEvent(ev))
			if len(pending) >= r.cfg.BatchSize {
				r.flush(ctx, pending)
				pending = make([]Row, 0, r.cfg.BatchSize)
			}
		case <-ticker.Chan():
			if len(pending) > 0 {
				r.flush(ctx, pending)
				pending = make([]Row, 0, r.cfg.BatchSize)
			}
		}
	}
}

// drain appends every queued event to pending without blocking.
func (r *Recorder) drain(pending []Row) []Row {
	for {
		select {
		case ev := <-r.events:
			pending = append(pending, RowFromEvent(ev))
		default:
			return pending
		}
	}
}

// flush writes rows, retrying transient failures. A batch that still fails
// is logged and discarded.
func (r *Recorder) flush(ctx context.Context, rows []Row) {
	if len(rows) == 0 {
		return
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FlushTimeout)
	defer cancel()

	err := retry.Do(ctx, r.cfg.Retry, func() error {
		return r.cfg.Writer.Insert(ctx, rows)
	})
	metrics.ActivityFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ActivityFlushTotal.WithLabelValues("error").Inc()
		r.log.Error("activity: failed to flush batch", "rows", len(rows), "error", err)
		return
	}
	metrics.ActivityFlushTotal.WithLabelValues("success").Inc()
	metrics.ActivityRowsWritten.Add(float64(len(rows)))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jengzang/records-live-go/internal/clock"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/stats"
)

// Flush defaults.
const (
	DefaultFlushInterval = 5 * time.Second
	DefaultFlushTimeout  = 3 * time.Second

	latencySamples = 256
)

// LocationSink persists a batch of reports in one all-or-nothing write.
type LocationSink interface {
	InsertLocations(ctx context.Context, reports []models.LocationReport) error
}

// PrincipalFlusher drains one principal's buffer to durable storage.
type PrincipalFlusher interface {
	FlushPrincipal(ctx context.Context, principalID string) (int, error)
}

// FlushConfig tunes the flush loop.
type FlushConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// FlushResult summarises one flush pass.
type FlushResult struct {
	Principals int
	Rows       int
	Failed     []string
}

// FlushStats are cumulative counters of the scheduler.
type FlushStats struct {
	Batches     uint64 `json:"batches"`
	Rows        uint64 `json:"rows"`
	FailedRows  uint64 `json:"failedRows"`
	FailedFlush uint64 `json:"failedFlushes"`
	// LatencyMs covers the most recent sink writes, failed ones included.
	LatencyMs stats.Summary `json:"latencyMs"`
}

// FlushScheduler periodically drains the location buffer into the sink.
// Principals are written independently; a failed write drops that batch
// and is logged, it never blocks other principals or re-queues data.
type FlushScheduler struct {
	buffer   *LocationBuffer
	sink     LocationSink
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	batches     atomic.Uint64
	rows        atomic.Uint64
	failedRows  atomic.Uint64
	failedFlush atomic.Uint64
	latency     *stats.Window
}

// NewFlushScheduler creates a new flush scheduler
func NewFlushScheduler(buffer *LocationBuffer, sink LocationSink, clk clock.Clock, cfg FlushConfig, logger *slog.Logger) *FlushScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFlushTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FlushScheduler{
		buffer:   buffer,
		sink:     sink,
		clock:    clk,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "flush"),
		latency:  stats.NewWindow(latencySamples),
	}
}

// Run flushes every interval until ctx is cancelled, then performs one
// last flush so buffered data is not lost on shutdown.
func (s *FlushScheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("flush scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
			res := s.FlushAll(final)
			cancel()
			s.logger.Info("flush scheduler stopped", "principals", res.Principals, "rows", res.Rows, "failed", len(res.Failed))
			return nil
		case <-ticker.C():
			res := s.FlushAll(ctx)
			if res.Principals > 0 {
				s.logger.Debug("flush pass", "principals", res.Principals, "rows", res.Rows, "failed", len(res.Failed))
			}
		}
	}
}

// FlushAll drains every principal with pending reports.
func (s *FlushScheduler) FlushAll(ctx context.Context) FlushResult {
	var res FlushResult
	for _, principalID := range s.buffer.Pending() {
		n, err := s.FlushPrincipal(ctx, principalID)
		if err != nil {
			res.Failed = append(res.Failed, principalID)
			continue
		}
		if n > 0 {
			res.Principals++
			res.Rows += n
		}
	}
	return res
}

// FlushPrincipal drains one principal's buffer and writes it. It returns
// the number of rows committed. On failure the batch is discarded.
func (s *FlushScheduler) FlushPrincipal(ctx context.Context, principalID string) (int, error) {
	batch := s.buffer.Flush(principalID)
	if len(batch) == 0 {
		return 0, nil
	}

	start := s.clock.Now()
	err := s.write(ctx, batch)
	s.latency.Add(float64(s.clock.Now().Sub(start)) / float64(time.Millisecond))
	if err != nil {
		s.failedFlush.Add(1)
		s.failedRows.Add(uint64(len(batch)))
		s.logger.Error("location flush failed, batch dropped",
			"principal", principalID,
			"rows", len(batch),
			"error", err,
		)
		return 0, fmt.Errorf("flush %s: %w", principalID, err)
	}

	s.batches.Add(1)
	s.rows.Add(uint64(len(batch)))
	return len(batch), nil
}

// Stats returns cumulative flush counters.
func (s *FlushScheduler) Stats() FlushStats {
	return FlushStats{
		Batches:     s.batches.Load(),
		Rows:        s.rows.Load(),
		FailedRows:  s.failedRows.Load(),
		FailedFlush: s.failedFlush.Load(),
		LatencyMs:   s.latency.Summary(),
	}
}

// write runs the sink call under the flush timeout. A sink that ignores
// its context is abandoned once the deadline passes.
func (s *FlushScheduler) write(ctx context.Context, batch []models.LocationReport) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: sink panic: %v", models.ErrStorage, r)
			}
		}()
		done <- s.sink.InsertLocations(ctx, batch)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, models.ErrStorage) {
			err = fmt.Errorf("%w: %w", models.ErrStorage, err)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", models.ErrStorage, ctx.Err())
	}
}

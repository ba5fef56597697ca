// Package reconciler waits for a submitted job to reach a terminal status.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
)

// Snapshot is one observation of a job
type Snapshot struct {
	Status    domain.Status
	ResultRef string
	Terminal  bool
}

// Fetcher reads the current state of a job. It returns domain.ErrJobNotFound
// when the job is not visible.
type Fetcher interface {
	Fetch(ctx context.Context, jobID string) (*Snapshot, error)
}

// Config bounds the polling schedule
type Config struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64 // 1 or less keeps a fixed interval
	Timeout     time.Duration
}

// DefaultConfig polls every two seconds with gentle backoff for a minute
func DefaultConfig() Config {
	return Config{
		Interval:    2 * time.Second,
		MaxInterval: 10 * time.Second,
		Multiplier:  1.5,
		Timeout:     time.Minute,
	}
}

// Result is the final observation. StillProcessing is set when the timeout
// elapsed before a terminal status was seen.
type Result struct {
	JobID           string
	Status          domain.Status
	ResultRef       string
	Terminal        bool
	StillProcessing bool
	Attempts        int
}

// Poller polls a Fetcher on a bounded schedule
type Poller struct {
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewPoller creates a Poller
func NewPoller(fetcher Fetcher, cfg Config, logger *slog.Logger) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Poller{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Wait polls jobID until it is terminal or the timeout elapses. A missing job
// counts as pending and fetch failures are retried on the next tick; only
// cancellation of ctx is returned as an error.
func (p *Poller) Wait(ctx context.Context, jobID string) (*Result, error) {
	deadline := p.now().Add(p.cfg.Timeout)
	interval := p.cfg.Interval
	result := &Result{JobID: jobID, Status: domain.StatusPending}

	for {
		result.Attempts++
		snap, err := p.fetcher.Fetch(ctx, jobID)
		switch {
		case err == nil:
			result.Status = snap.Status
			result.ResultRef = snap.ResultRef
			result.Terminal = snap.Terminal
			if snap.Terminal {
				return result, nil
			}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, domain.ErrJobNotFound):
			p.logger.Debug("Job not visible yet, treating as pending",
				slog.String("job_id", jobID),
			)
		default:
			p.logger.Warn("Failed to fetch job status, will retry",
				slog.String("job_id", jobID),
				slog.Int("attempt", result.Attempts),
				slog.Any("error", err),
			)
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			result.StillProcessing = true
			return result, nil
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		if p.cfg.Multiplier > 1 {
			interval = time.Duration(float64(interval) * p.cfg.Multiplier)
			if interval > p.cfg.MaxInterval {
				interval = p.cfg.MaxInterval
			}
		}
	}
}

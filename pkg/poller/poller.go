// Package poller follows the progress of a submitted job by querying its
// status on a fixed cadence.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/miya-dang/InkTranslator/pkg/pipeline"
)

// Defaults cover roughly the 300s processing timeout of the service
const (
	DefaultInitialDelay = time.Second
	DefaultInterval     = 2 * time.Second
	DefaultMaxAttempts  = 150
)

// Reason explains why a poll loop stopped
type Reason string

const (
	ReasonTerminal  Reason = "terminal"
	ReasonExhausted Reason = "exhausted"
	ReasonFailed    Reason = "failed"
	ReasonCancelled Reason = "cancelled"
)

// StatusFetcher queries the status of a session
type StatusFetcher interface {
	Status(ctx context.Context, sessionID string) (*pipeline.StatusSnapshot, error)
}

// Recorder receives poll observations. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveStatusPoll(stage string)
	ObservePollRun(reason string)
}

// Config holds the poll cadence
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
}

// DefaultConfig returns the standard cadence
func DefaultConfig() Config {
	return Config{
		InitialDelay: DefaultInitialDelay,
		Interval:     DefaultInterval,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

func (c Config) withDefaults() Config {
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Outcome summarizes a finished poll loop
type Outcome struct {
	Reason   Reason
	Attempts int
	// Last is the most recent successful observation, nil if none
	Last *pipeline.StatusSnapshot
	Err  error
}

// Poller runs status poll loops. One Poller may serve many sessions; each
// Run call is independent.
type Poller struct {
	fetcher  StatusFetcher
	cfg      Config
	logger   zerolog.Logger
	recorder Recorder
}

// New creates a poller. recorder may be nil.
func New(fetcher StatusFetcher, cfg Config, logger zerolog.Logger, recorder Recorder) *Poller {
	return &Poller{
		fetcher:  fetcher,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		recorder: recorder,
	}
}

// Config returns the effective cadence
func (p *Poller) Config() Config {
	return p.cfg
}

// Run polls until the job reaches a terminal stage, the attempt budget is
// spent, a query fails, or ctx is done. emit receives every snapshot that
// carries a message, in arrival order, on the calling goroutine.
func (p *Poller) Run(ctx context.Context, sessionID string, emit func(pipeline.StatusSnapshot)) Outcome {
	logger := p.logger.With().Str("session_id", sessionID).Logger()
	logger.Debug().
		Dur("initial_delay", p.cfg.InitialDelay).
		Dur("interval", p.cfg.Interval).
		Int("max_attempts", p.cfg.MaxAttempts).
		Msg("poller.started")

	out := Outcome{}
	finish := func(reason Reason) Outcome {
		out.Reason = reason
		if p.recorder != nil {
			p.recorder.ObservePollRun(string(reason))
		}
		event := logger.Debug()
		if reason == ReasonFailed {
			event = logger.Warn().Err(out.Err)
		}
		event.Str("reason", string(reason)).Int("attempts", out.Attempts).Msg("poller.stopped")
		return out
	}

	timer := time.NewTimer(p.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(ReasonCancelled)
		case <-timer.C:
		}

		out.Attempts++
		snap, err := p.fetcher.Status(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return finish(ReasonCancelled)
			}
			if p.recorder != nil {
				p.recorder.ObserveStatusPoll("")
			}
			out.Err = err
			return finish(ReasonFailed)
		}

		snap.Seq = out.Attempts
		if snap.ReceivedAt.IsZero() {
			snap.ReceivedAt = time.Now()
		}
		out.Last = snap
		if p.recorder != nil {
			p.recorder.ObserveStatusPoll(string(snap.Stage))
		}
		logger.Debug().
			Int("attempt", out.Attempts).
			Str("stage", string(snap.Stage)).
			Str("message", snap.Message).
			Msg("poller.observed")

		// a cancel that raced the query suppresses the callback
		if ctx.Err() != nil {
			return finish(ReasonCancelled)
		}
		if snap.Message != "" && emit != nil {
			emit(*snap)
		}

		if snap.Stage.IsTerminal() {
			return finish(ReasonTerminal)
		}
		if out.Attempts >= p.cfg.MaxAttempts {
			return finish(ReasonExhausted)
		}
		timer.Reset(p.cfg.Interval)
	}
}

// Package runner drives one translation job at a time: it submits the
// images, follows progress through the status poller, and lets the caller
// cancel or reset the session identity between jobs.
package runner

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/miya-dang/InkTranslator/pkg/client"
	"github.com/miya-dang/InkTranslator/pkg/pipeline"
	"github.com/miya-dang/InkTranslator/pkg/poller"
	"github.com/miya-dang/InkTranslator/pkg/session"
)

// ErrJobInProgress is returned when Translate is called while a job is in flight
var ErrJobInProgress = errors.New("a translation job is already in progress")

// Config holds the configuration for initializing the runner
type Config struct {
	BaseURL       string        // Service base URL, e.g. http://localhost:8000/api/v1
	AuthToken     string        // Optional Bearer token
	SubmitTimeout time.Duration // Zero leaves submissions unbounded
	StatusTimeout time.Duration // Per status query
	CheckContent  bool          // Decode images locally before upload
	Poll          poller.Config
}

// Translator is the part of the service client the runner drives
type Translator interface {
	poller.StatusFetcher
	Validate(images []pipeline.Image) error
	Submit(ctx context.Context, req pipeline.SubmissionRequest) (*client.Response, error)
	Cancel(ctx context.Context, sessionID string) error
}

// Recorder receives job observations. *metrics.Metrics satisfies it.
type Recorder interface {
	poller.Recorder
	ObserveSubmission(endpoint, errorType string, elapsed time.Duration)
	ObserveCancellation(err error)
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the logger used by the runner, its client and its poller
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRecorder records submissions, polls and cancellations
func WithRecorder(recorder Recorder) Option {
	return func(r *Runner) {
		r.recorder = recorder
	}
}

// WithHTTPClient sets the transport of the client built by New
func WithHTTPClient(httpClient *http.Client) Option {
	return func(r *Runner) {
		r.httpClient = httpClient
	}
}

// WithIDGenerator replaces session.NewID
func WithIDGenerator(newID func() string) Option {
	return func(r *Runner) {
		r.newID = newID
	}
}

// Runner provides a high-level API over the translation client and poller
type Runner struct {
	client     Translator
	poller     *poller.Poller
	logger     zerolog.Logger
	recorder   Recorder
	httpClient *http.Client
	newID      func() string

	mu        sync.Mutex
	sessionID string
	used      bool
	inFlight  bool
	stopPoll  context.CancelFunc
}

// New builds a runner with its own client and poller
func New(cfg Config, opts ...Option) *Runner {
	r := newRunner(opts)

	clientOpts := []client.Option{
		client.WithAuthToken(cfg.AuthToken),
		client.WithTimeout(cfg.SubmitTimeout),
		client.WithContentCheck(cfg.CheckContent),
		client.WithLogger(r.logger),
	}
	if cfg.StatusTimeout > 0 {
		clientOpts = append(clientOpts, client.WithStatusTimeout(cfg.StatusTimeout))
	}
	if r.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(r.httpClient))
	}

	r.client = client.New(cfg.BaseURL, clientOpts...)
	r.poller = poller.New(r.client, cfg.Poll, r.logger, r.pollRecorder())
	return r
}

// NewWithClient builds a runner around an existing client
func NewWithClient(tc Translator, pollCfg poller.Config, opts ...Option) *Runner {
	r := newRunner(opts)
	r.client = tc
	r.poller = poller.New(tc, pollCfg, r.logger, r.pollRecorder())
	return r
}

func newRunner(opts []Option) *Runner {
	r := &Runner{
		logger: zerolog.Nop(),
		newID:  session.NewID,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sessionID = r.newID()
	return r
}

// pollRecorder avoids handing the poller a non-nil interface wrapping nil
func (r *Runner) pollRecorder() poller.Recorder {
	if r.recorder == nil {
		return nil
	}
	return r.recorder
}

// SessionID returns the identity the next or current job is tracked under
func (r *Runner) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Reset starts a fresh session identity and returns it
func (r *Runner) Reset() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = r.newID()
	r.used = false
	return r.sessionID
}

// Translate submits one image (or a batch of up to three) and returns the
// classified response; a translated image arrives as resp.Artifact.
// onStatus receives progress messages while the job runs and is never called
// after Translate returns. Validation failures are returned before anything
// is sent.
func (r *Runner) Translate(ctx context.Context, images []pipeline.Image, source, target string, onStatus func(pipeline.StatusSnapshot)) (*client.Response, error) {
	if err := client.CheckBatchSize(len(images)); err != nil {
		return nil, err
	}
	if err := r.client.Validate(images); err != nil {
		return nil, err
	}

	sessionID, pollCtx, done, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	req := pipeline.NewSubmissionRequest(images, source, target, sessionID)
	logger := r.logger.With().Str("session_id", sessionID).Logger()

	go func() {
		defer close(done)
		out := r.poller.Run(pollCtx, sessionID, onStatus)
		logger.Debug().
			Str("reason", string(out.Reason)).
			Int("attempts", out.Attempts).
			Msg("runner.poll.finished")
	}()

	endpoint := client.EndpointTranslate
	if req.IsBatch() {
		endpoint = client.EndpointBatchTranslate
	}
	started := time.Now()
	resp, err := r.client.Submit(ctx, req)
	elapsed := time.Since(started)

	r.finish(done)

	if r.recorder != nil {
		r.recorder.ObserveSubmission(strings.TrimPrefix(endpoint, "/"), errorType(err), elapsed)
	}
	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("runner.translate.failed")
		return nil, err
	}
	event := logger.Info().Str("kind", string(resp.Kind)).Dur("elapsed", elapsed)
	if resp.Artifact != nil {
		event = event.Int("bytes", resp.Artifact.Size()).Int("text_boxes", resp.Artifact.TextBoxes)
	}
	event.Msg("runner.translate.completed")
	return resp, nil
}

// begin claims the runner for one job and prepares the poll context
func (r *Runner) begin(ctx context.Context) (string, context.Context, chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight {
		return "", nil, nil, ErrJobInProgress
	}
	if r.used {
		r.sessionID = r.newID()
	}
	r.used = true
	r.inFlight = true

	pollCtx, stop := context.WithCancel(ctx)
	r.stopPoll = stop
	return r.sessionID, pollCtx, make(chan struct{}), nil
}

// finish stops the poller of the current job and waits for it to exit
func (r *Runner) finish(done chan struct{}) {
	r.mu.Lock()
	stop := r.stopPoll
	r.stopPoll = nil
	r.inFlight = false
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	<-done
}

// Cancel stops progress polling, tells the service to drop the session and
// returns a fresh identity. Service failures are logged, never returned. An
// in-flight submission keeps running until its context is cancelled.
func (r *Runner) Cancel(ctx context.Context) string {
	r.mu.Lock()
	previous := r.sessionID
	stop := r.stopPoll
	r.stopPoll = nil
	r.sessionID = r.newID()
	r.used = false
	next := r.sessionID
	r.mu.Unlock()

	if stop != nil {
		stop()
	}

	err := r.client.Cancel(ctx, previous)
	if r.recorder != nil {
		r.recorder.ObserveCancellation(err)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", previous).Msg("runner.cancel.failed")
	} else {
		r.logger.Info().Str("session_id", previous).Msg("runner.cancelled")
	}
	return next
}

// Shutdown stops any active poller
func (r *Runner) Shutdown() {
	r.mu.Lock()
	stop := r.stopPoll
	r.stopPoll = nil
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	var cerr *client.Error
	if errors.As(err, &cerr) {
		return cerr.Type
	}
	return "unknown"
}

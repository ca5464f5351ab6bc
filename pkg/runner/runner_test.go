package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miya-dang/InkTranslator/pkg/artifact"
	"github.com/miya-dang/InkTranslator/pkg/client"
	"github.com/miya-dang/InkTranslator/pkg/pipeline"
	"github.com/miya-dang/InkTranslator/pkg/poller"
)

type stubTranslator struct {
	validator *client.Client

	mu          sync.Mutex
	submitted   []string
	requests    []pipeline.SubmissionRequest
	cancelled   []string
	statusCalls int
	cancelErr   error

	// submitGate, when set, blocks Submit until closed
	submitGate chan struct{}
	// pollsBeforeReturn makes Submit wait for that many status queries
	pollsBeforeReturn int
}

func newStubTranslator() *stubTranslator {
	return &stubTranslator{validator: client.New("http://unused.invalid")}
}

func (s *stubTranslator) Validate(images []pipeline.Image) error {
	return s.validator.Validate(images)
}

func (s *stubTranslator) Status(_ context.Context, sessionID string) (*pipeline.StatusSnapshot, error) {
	s.mu.Lock()
	s.statusCalls++
	n := s.statusCalls
	s.mu.Unlock()
	return &pipeline.StatusSnapshot{
		JobID:   sessionID,
		Stage:   pipeline.StageOCR,
		Message: fmt.Sprintf("poll %d", n),
	}, nil
}

func (s *stubTranslator) StatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

func (s *stubTranslator) Submit(ctx context.Context, req pipeline.SubmissionRequest) (*client.Response, error) {
	s.mu.Lock()
	s.submitted = append(s.submitted, req.SessionID)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.submitGate != nil {
		select {
		case <-s.submitGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for s.StatusCalls() < s.pollsBeforeReturn {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return &client.Response{
		Kind:     client.KindImage,
		Artifact: &artifact.Artifact{Data: []byte("out"), ContentType: "image/png", TextBoxes: len(req.Images)},
	}, nil
}

func (s *stubTranslator) Cancel(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, sessionID)
	return s.cancelErr
}

func fastPoll() poller.Config {
	return poller.Config{InitialDelay: 0, Interval: time.Millisecond, MaxAttempts: 1000}
}

func sequentialIDs() func() string {
	var n int32
	return func() string {
		return fmt.Sprintf("session_%d", atomic.AddInt32(&n, 1))
	}
}

func png(name string) pipeline.Image {
	return pipeline.Image{Name: name, ContentType: "image/png", Data: []byte("png")}
}

func TestTranslateDeliversArtifactAndStopsPolling(t *testing.T) {
	t.Parallel()

	stub := newStubTranslator()
	stub.pollsBeforeReturn = 3
	r := NewWithClient(stub, fastPoll(), WithIDGenerator(sequentialIDs()))

	var mu sync.Mutex
	var messages []string
	resp, err := r.Translate(context.Background(), []pipeline.Image{png("a.png")}, "", "", func(s pipeline.StatusSnapshot) {
		mu.Lock()
		messages = append(messages, s.Message)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if resp.Artifact == nil || string(resp.Artifact.Data) != "out" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	mu.Lock()
	seen := len(messages)
	mu.Unlock()
	if seen < 2 {
		t.Fatalf("unexpected messages: got %d want at least 2", seen)
	}

	calls := stub.StatusCalls()
	time.Sleep(20 * time.Millisecond)
	if got := stub.StatusCalls(); got != calls {
		t.Fatalf("poller kept running after translate returned: %d -> %d", calls, got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(messages) != seen {
		t.Fatalf("status callback after translate returned: %d -> %d", seen, len(messages))
	}
}

func TestTranslateValidatesBeforeStarting(t *testing.T) {
	t.Parallel()

	stub := newStubTranslator()
	r := NewWithClient(stub, fastPoll(), WithIDGenerator(sequentialIDs()))
	before := r.SessionID()

	gif := pipeline.Image{Name: "a.gif", ContentType: "image/gif", Data: []byte("gif")}
	_, err := r.Translate(context.Background(), []pipeline.Image{gif}, "", "", nil)
	if !client.IsType(err, client.TypeValidation) {
		t.Fatalf("expected validation_error, got %v", err)
	}

	four := []pipeline.Image{png("a.png"), png("b.png"), png("c.png"), png("d.png")}
	_, err = r.Translate(context.Background(), four, "", "", nil)
	if !errors.Is(err, client.ErrBatchSize) {
		t.Fatalf("expected batch size error, got %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if stub.StatusCalls() != 0 || len(stub.submitted) != 0 {
		t.Fatalf("unexpected activity: %d status calls, %d submissions", stub.StatusCalls(), len(stub.submitted))
	}
	if r.SessionID() != before {
		t.Fatalf("identity changed on validation failure: %s -> %s", before, r.SessionID())
	}
}

func TestTranslateRotatesIdentityBetweenJobs(t *testing.T) {
	t.Parallel()

	stub := newStubTranslator()
	r := NewWithClient(stub, fastPoll(), WithIDGenerator(sequentialIDs()))
	first := r.SessionID()

	for i := 0; i < 2; i++ {
		if _, err := r.Translate(context.Background(), []pipeline.Image{png("a.png"), png("b.png")}, "", "", nil); err != nil {
			t.Fatalf("translate %d: %v", i, err)
		}
	}

	if len(stub.submitted) != 2 {
		t.Fatalf("unexpected submissions: %v", stub.submitted)
	}
	if stub.submitted[0] != first {
		t.Fatalf("first job should use the initial identity: got %s want %s", stub.submitted[0], first)
	}
	if stub.submitted[0] == stub.submitted[1] {
		t.Fatalf("consecutive jobs shared identity %s", stub.submitted[0])
	}
	req := stub.requests[1]
	if !req.IsBatch() || len(req.Images) != 2 {
		t.Fatalf("unexpected request images: %+v", req.Images)
	}
	if req.SourceLanguage != pipeline.DefaultSourceLanguage || req.TargetLanguage != pipeline.DefaultTargetLanguage {
		t.Fatalf("unexpected request languages: %q -> %q", req.SourceLanguage, req.TargetLanguage)
	}

	reset := r.Reset()
	if reset == stub.submitted[1] || r.SessionID() != reset {
		t.Fatalf("unexpected identity after reset: %s", reset)
	}
}

func TestTranslateRejectsConcurrentJob(t *testing.T) {
	t.Parallel()

	stub := newStubTranslator()
	stub.submitGate = make(chan struct{})
	r := NewWithClient(stub, fastPoll())

	errc := make(chan error, 1)
	go func() {
		_, err := r.Translate(context.Background(), []pipeline.Image{png("a.png")}, "", "", nil)
		errc <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		stub.mu.Lock()
		started := len(stub.submitted) > 0
		stub.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first job never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := r.Translate(context.Background(), []pipeline.Image{png("b.png")}, "", "", nil); !errors.Is(err, ErrJobInProgress) {
		t.Fatalf("expected ErrJobInProgress, got %v", err)
	}

	close(stub.submitGate)
	if err := <-errc; err != nil {
		t.Fatalf("first job: %v", err)
	}
}

func TestCancelNeverFails(t *testing.T) {
	t.Parallel()

	stub := newStubTranslator()
	stub.cancelErr = &client.Error{Status: http.StatusNotFound, Type: client.TypeHTTP, Message: "Session not found or expired"}
	r := NewWithClient(stub, fastPoll(), WithIDGenerator(sequentialIDs()))

	before := r.SessionID()
	next := r.Cancel(context.Background())
	if next == "" || next == before {
		t.Fatalf("expected a fresh identity, got %q (was %q)", next, before)
	}
	if r.SessionID() != next {
		t.Fatalf("unexpected current identity: got %s want %s", r.SessionID(), next)
	}
	if len(stub.cancelled) != 1 || stub.cancelled[0] != before {
		t.Fatalf("unexpected cancel calls: %v", stub.cancelled)
	}

	// cancelling again, with nothing in flight, is still harmless
	if again := r.Cancel(context.Background()); again == next {
		t.Fatalf("expected another fresh identity")
	}
	r.Shutdown()
}

func TestCancelStopsPolling(t *testing.T) {
	t.Parallel()

	stub := newStubTranslator()
	stub.submitGate = make(chan struct{})
	r := NewWithClient(stub, fastPoll(), WithIDGenerator(sequentialIDs()))
	jobID := r.SessionID()

	errc := make(chan error, 1)
	go func() {
		_, err := r.Translate(context.Background(), []pipeline.Image{png("a.png")}, "", "", nil)
		errc <- err
	}()

	deadline := time.Now().Add(time.Second)
	for stub.StatusCalls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("poller never started")
		}
		time.Sleep(time.Millisecond)
	}

	next := r.Cancel(context.Background())
	time.Sleep(5 * time.Millisecond)
	calls := stub.StatusCalls()
	time.Sleep(20 * time.Millisecond)
	if got := stub.StatusCalls(); got != calls {
		t.Fatalf("poller kept running after cancel: %d -> %d", calls, got)
	}

	close(stub.submitGate)
	if err := <-errc; err != nil {
		t.Fatalf("submission should not be aborted by cancel: %v", err)
	}
	if stub.cancelled[0] != jobID {
		t.Fatalf("unexpected cancelled id: got %s want %s", stub.cancelled[0], jobID)
	}

	// the identity minted by cancel is unused, so the next job takes it
	if _, err := r.Translate(context.Background(), []pipeline.Image{png("b.png")}, "", "", nil); err != nil {
		t.Fatalf("translate after cancel: %v", err)
	}
	if last := stub.submitted[len(stub.submitted)-1]; last != next {
		t.Fatalf("unexpected identity after cancel: got %s want %s", last, next)
	}
}

func TestNewTalksToService(t *testing.T) {
	t.Parallel()

	var statusHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/translate":
			time.Sleep(10 * time.Millisecond)
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("translated"))
		default:
			atomic.AddInt32(&statusHits, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"job_id":"x","status":"ocr","message":"Starting OCR text extraction..."}`))
		}
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL, Poll: fastPoll()})
	resp, err := r.Translate(context.Background(), []pipeline.Image{png("page.png")}, pipeline.LanguageJapanese, pipeline.LanguageEnglish, nil)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if resp.Kind != client.KindImage || string(resp.Artifact.Data) != "translated" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/miya-dang/InkTranslator/pkg/pipeline"
	"github.com/miya-dang/InkTranslator/pkg/validation"
)

// Endpoint names, relative to the base URL
const (
	EndpointTranslate          = "/translate"
	EndpointBatchTranslate     = "/batch-translate"
	EndpointStatus             = "/status/{session_id}"
	EndpointCancel             = "/cancel/{session_id}"
	EndpointSupportedLanguages = "/supported-languages"
	EndpointHealth             = "/health"
)

// DefaultStatusTimeout bounds one status query
const DefaultStatusTimeout = 10 * time.Second

// SessionHeader carries the session identity on every session-scoped request
const SessionHeader = "X-Session-ID"

// Client is an HTTP client for the translation service
type Client struct {
	baseURL       string
	http          *resty.Client
	token         string
	timeout       time.Duration
	statusTimeout time.Duration
	checkContent  bool
	logger        zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithAuthToken sends the token as a Bearer credential on every request
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout bounds submissions. Zero leaves them unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithStatusTimeout bounds each status query
func WithStatusTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.statusTimeout = d
	}
}

// WithContentCheck decodes images locally before upload and rejects
// undecodable or undersized ones
func WithContentCheck(enabled bool) Option {
	return func(c *Client) {
		c.checkContent = enabled
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient uses a custom HTTP client as transport
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(httpClient)
	}
}

// New creates a new translation client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		statusTimeout: DefaultStatusTimeout,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = resty.New()
	}
	c.http.SetBaseURL(c.baseURL).
		SetLogger(restyLogger{logger: c.logger}).
		SetHeader("Accept", "image/png, application/json")
	if c.token != "" {
		c.http.SetAuthToken(c.token)
	}
	return c
}

// BaseURL returns the service base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit sends the request to /translate, or to /batch-translate when it
// carries more than one image. Images are validated before anything is sent.
func (c *Client) Submit(ctx context.Context, req pipeline.SubmissionRequest) (*Response, error) {
	if req.IsBatch() {
		return c.SubmitBatch(ctx, req)
	}
	if err := CheckBatchSize(len(req.Images)); err != nil {
		return nil, err
	}
	if err := c.validate(req.Images); err != nil {
		return nil, validationError(EndpointTranslate, err)
	}
	return c.submit(ctx, EndpointTranslate, "file", req)
}

// SubmitBatch uploads between one and three images in one request
func (c *Client) SubmitBatch(ctx context.Context, req pipeline.SubmissionRequest) (*Response, error) {
	if err := CheckBatchSize(len(req.Images)); err != nil {
		return nil, err
	}
	if err := c.validate(req.Images); err != nil {
		return nil, validationError(EndpointBatchTranslate, err)
	}
	return c.submit(ctx, EndpointBatchTranslate, "files", req)
}

// Validate runs the local checks Submit and SubmitBatch apply
func (c *Client) Validate(images []pipeline.Image) error {
	if err := c.validate(images); err != nil {
		return validationError("", err)
	}
	return nil
}

func (c *Client) validate(images []pipeline.Image) error {
	files := make([]validation.File, len(images))
	for i, img := range images {
		files[i] = validation.File{Name: img.Name, ContentType: img.ContentType, Size: img.Size()}
	}
	if err := validation.ValidateAll(files); err != nil {
		return err
	}
	if !c.checkContent {
		return nil
	}
	for i, img := range images {
		if err := validation.ValidateContent(files[i], img.Data); err != nil {
			var verr *validation.Error
			if errors.As(err, &verr) {
				verr.Index = i
			}
			return err
		}
	}
	return nil
}

func (c *Client) submit(ctx context.Context, endpoint, field string, sub pipeline.SubmissionRequest) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	source, target := sub.SourceLanguage, sub.TargetLanguage
	if source == "" {
		source = pipeline.DefaultSourceLanguage
	}
	if target == "" {
		target = pipeline.DefaultTargetLanguage
	}
	form := map[string]string{
		"source_language": source,
		"target_language": target,
	}
	if sub.SessionID != "" {
		form["session_id"] = sub.SessionID
	}

	req := c.request(ctx, sub.SessionID).SetFormData(form)
	for i, img := range sub.Images {
		req.SetMultipartField(field, uploadName(img, i), img.ContentType, bytes.NewReader(img.Data))
	}

	c.logger.Info().
		Str("endpoint", endpoint).
		Str("session_id", sub.SessionID).
		Int("images", len(sub.Images)).
		Str("source_language", source).
		Str("target_language", target).
		Msg("client.submit")

	return c.execute(req, http.MethodPost, endpoint)
}

// Do sends a request without a body and returns the classified response.
// A {session_id} placeholder in endpoint is filled from sessionID.
func (c *Client) Do(ctx context.Context, method, endpoint, sessionID string) (*Response, error) {
	req := c.request(ctx, sessionID)
	if strings.Contains(endpoint, "{session_id}") {
		if sessionID == "" {
			return nil, &Error{Type: TypeValidation, Message: "session id is required", Endpoint: endpoint}
		}
		req.SetPathParam("session_id", sessionID)
	}
	return c.execute(req, method, endpoint)
}

// Status fetches the latest progress of a session
func (c *Client) Status(ctx context.Context, sessionID string) (*pipeline.StatusSnapshot, error) {
	if c.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.statusTimeout)
		defer cancel()
	}

	resp, err := c.Do(ctx, http.MethodGet, EndpointStatus, sessionID)
	if err != nil {
		return nil, err
	}
	var status pipeline.StatusResponse
	if err := resp.Decode(&status); err != nil {
		return nil, err
	}
	snap := status.Snapshot(0, resp.ReceivedAt)
	return &snap, nil
}

// Cancel asks the service to stop tracking a session. The response body is ignored.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	_, err := c.Do(ctx, http.MethodPost, EndpointCancel, sessionID)
	return err
}

// SupportedLanguages lists the languages the service accepts
func (c *Client) SupportedLanguages(ctx context.Context) (*pipeline.SupportedLanguagesResponse, error) {
	resp, err := c.Do(ctx, http.MethodGet, EndpointSupportedLanguages, "")
	if err != nil {
		return nil, err
	}
	var out pipeline.SupportedLanguagesResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports the service health
func (c *Client) Health(ctx context.Context) (*pipeline.HealthResponse, error) {
	resp, err := c.Do(ctx, http.MethodGet, EndpointHealth, "")
	if err != nil {
		return nil, err
	}
	var out pipeline.HealthResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) request(ctx context.Context, sessionID string) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if sessionID != "" {
		req.SetHeader(SessionHeader, sessionID)
	}
	return req
}

// execute runs the request and classifies the response. Every call goes
// through here so failures share one shape.
func (c *Client) execute(req *resty.Request, method, endpoint string) (*Response, error) {
	started := time.Now()
	resp, err := req.Execute(method, endpoint)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Dur("elapsed", time.Since(started)).
			Msg("client.http.failed")
		return nil, networkError(endpoint, err)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode()).
		Str("content_type", resp.Header().Get("Content-Type")).
		Int("bytes", len(resp.Body())).
		Dur("elapsed", time.Since(started)).
		Msg("client.http.response")

	if !resp.IsSuccess() {
		return nil, errorFromResponse(endpoint, resp.StatusCode(), resp.Body())
	}
	return classify(endpoint, resp)
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// dispositionFilename extracts the filename parameter. The service does not
// quote it, so names with spaces fail strict parsing.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		return params["filename"]
	}
	_, rest, found := strings.Cut(header, "filename=")
	if !found {
		return ""
	}
	rest, _, _ = strings.Cut(rest, ";")
	return strings.Trim(strings.TrimSpace(rest), `"`)
}

func uploadName(img pipeline.Image, index int) string {
	if name := filepath.Base(strings.TrimSpace(img.Name)); name != "" && name != "." && name != "/" {
		return name
	}
	ext := ".png"
	if mediaTypeOf(img.ContentType) == "image/jpeg" {
		ext = ".jpg"
	}
	return fmt.Sprintf("image_%d%s", index+1, ext)
}

// restyLogger routes resty's internal messages into zerolog
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}

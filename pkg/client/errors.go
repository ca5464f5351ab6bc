package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/miya-dang/InkTranslator/pkg/pipeline"
)

// Error types produced by the client. Types declared by the service in the
// error payload are passed through unchanged.
const (
	TypeNetwork    = "network_error"
	TypeHTTP       = "http_error"
	TypeValidation = "validation_error"
)

var (
	// ErrBatchSize is returned when a batch is empty or larger than pipeline.MaxBatchSize
	ErrBatchSize = errors.New("batch must contain between 1 and 3 images")

	// ErrUnexpectedContent is returned when a 2xx response carries the wrong kind of body
	ErrUnexpectedContent = errors.New("unexpected response content")
)

// Error is the normalized failure of every client call
type Error struct {
	// Status is the HTTP status, 0 when no response was received
	Status  int
	Type    string
	Message string
	// Detail holds the raw detail field of the error payload
	Detail   any
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Type
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Type, msg, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Guidance returns a short remedy to show a person
func (e *Error) Guidance() string {
	switch e.Status {
	case http.StatusRequestEntityTooLarge:
		return "The image is too large. Upload a file up to 10MB."
	case http.StatusBadRequest:
		return "The image format or request is invalid. Use a JPEG or PNG image."
	case http.StatusUnprocessableEntity:
		return "The service could not process this image. Try a clearer image."
	case http.StatusTooManyRequests:
		return "Too many requests. Wait a moment and try again."
	}
	if e.Message != "" {
		return e.Message
	}
	return "Translation failed. Please try again."
}

// IsType reports whether err is a *Error of the given type
func IsType(err error, errType string) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Type == errType
}

// IsPrecondition reports whether err is a validation_error raised locally,
// before any request was sent. The service can declare validation_error too;
// those carry an HTTP status.
func IsPrecondition(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Type == TypeValidation && cerr.Status == 0
}

// CheckBatchSize rejects batches outside 1..pipeline.MaxBatchSize
func CheckBatchSize(n int) error {
	if n >= 1 && n <= pipeline.MaxBatchSize {
		return nil
	}
	return &Error{
		Type:     TypeValidation,
		Message:  fmt.Sprintf("%s, got %d", ErrBatchSize.Error(), n),
		Endpoint: EndpointBatchTranslate,
		Err:      ErrBatchSize,
	}
}

func validationError(endpoint string, err error) *Error {
	return &Error{
		Type:     TypeValidation,
		Message:  err.Error(),
		Endpoint: endpoint,
		Err:      err,
	}
}

func networkError(endpoint string, err error) *Error {
	return &Error{
		Type:     TypeNetwork,
		Message:  err.Error(),
		Endpoint: endpoint,
		Err:      err,
	}
}

// errorFromResponse normalizes a non-2xx response
func errorFromResponse(endpoint string, status int, body []byte) *Error {
	var payload pipeline.ErrorPayload
	if err := json.Unmarshal(body, &payload); err != nil || !usablePayload(payload) {
		msg := http.StatusText(status)
		if msg == "" {
			msg = "unexpected status"
		}
		cause := err
		if cause == nil {
			cause = errors.New("error payload has no usable fields")
		}
		return &Error{
			Status:   status,
			Type:     TypeNetwork,
			Message:  msg + ": undecodable error body",
			Endpoint: endpoint,
			Err:      cause,
		}
	}

	errType := strings.TrimSpace(payload.Type)
	if errType == "" {
		errType = strings.TrimSpace(payload.Error)
	}
	if errType == "" {
		errType = TypeHTTP
	}

	msg := detailMessage(payload.Detail)
	if msg == "" {
		msg = strings.TrimSpace(payload.Message)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	return &Error{
		Status:   status,
		Type:     errType,
		Message:  msg,
		Detail:   payload.Detail,
		Endpoint: endpoint,
	}
}

func usablePayload(p pipeline.ErrorPayload) bool {
	return p.Error != "" || p.Type != "" || p.Message != "" || detailMessage(p.Detail) != ""
}

// detailMessage renders the detail field. FastAPI request validation sends a
// list of objects here rather than a string.
func detailMessage(detail any) string {
	switch v := detail.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

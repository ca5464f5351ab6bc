package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/miya-dang/InkTranslator/pkg/artifact"
)

// Kind is the declared content kind of a successful response
type Kind string

const (
	KindImage Kind = "image"
	KindJSON  Kind = "json"
	KindText  Kind = "text"
)

// Response is a classified 2xx response. Exactly one of Artifact, JSON and
// Text is set, matching Kind.
type Response struct {
	Endpoint    string
	Status      int
	ContentType string
	Kind        Kind
	ReceivedAt  time.Time

	Artifact *artifact.Artifact
	JSON     json.RawMessage
	Text     string
}

// Decode unmarshals a JSON response into out
func (r *Response) Decode(out any) error {
	if r.Kind != KindJSON {
		return r.unexpected(KindJSON)
	}
	if err := json.Unmarshal(r.JSON, out); err != nil {
		return &Error{
			Status:   r.Status,
			Type:     TypeHTTP,
			Message:  fmt.Sprintf("decode response: %v", err),
			Endpoint: r.Endpoint,
			Err:      err,
		}
	}
	return nil
}

// Image returns the artifact of an image response
func (r *Response) Image() (*artifact.Artifact, error) {
	if r.Kind != KindImage {
		return nil, r.unexpected(KindImage)
	}
	return r.Artifact, nil
}

// Body returns the payload as text, whatever its kind
func (r *Response) Body() string {
	switch r.Kind {
	case KindImage:
		return fmt.Sprintf("<%s, %d bytes>", r.ContentType, r.Artifact.Size())
	case KindJSON:
		return string(r.JSON)
	}
	return r.Text
}

func (r *Response) unexpected(want Kind) *Error {
	return &Error{
		Status:   r.Status,
		Type:     TypeHTTP,
		Message:  fmt.Sprintf("expected %s response, got %s (%s)", want, r.Kind, r.ContentType),
		Endpoint: r.Endpoint,
		Err:      ErrUnexpectedContent,
	}
}

// classify turns a 2xx response into a Response. A body declared as JSON
// that does not parse is an http_error.
func classify(endpoint string, resp *resty.Response) (*Response, error) {
	contentType := resp.Header().Get("Content-Type")
	out := &Response{
		Endpoint:    endpoint,
		Status:      resp.StatusCode(),
		ContentType: mediaTypeOf(contentType),
		Kind:        kindOf(contentType),
		ReceivedAt:  resp.ReceivedAt(),
	}

	switch out.Kind {
	case KindImage:
		out.Artifact = artifactFromResponse(resp)
	case KindJSON:
		body := resp.Body()
		if !json.Valid(body) {
			return nil, &Error{
				Status:   out.Status,
				Type:     TypeHTTP,
				Message:  "response declared as JSON is not valid JSON",
				Endpoint: endpoint,
				Err:      ErrUnexpectedContent,
			}
		}
		out.JSON = json.RawMessage(body)
	default:
		out.Text = string(resp.Body())
	}
	return out, nil
}

func kindOf(contentType string) Kind {
	mediaType := mediaTypeOf(contentType)
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return KindJSON
	default:
		return KindText
	}
}

func artifactFromResponse(resp *resty.Response) *artifact.Artifact {
	a := &artifact.Artifact{
		Data:        resp.Body(),
		ContentType: mediaTypeOf(resp.Header().Get("Content-Type")),
		Filename:    dispositionFilename(resp.Header().Get("Content-Disposition")),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(resp.Header().Get("X-Text-Boxes-Count"))); err == nil {
		a.TextBoxes = n
	}
	return a
}

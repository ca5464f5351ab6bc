package pipeline

import (
	"strings"
	"time"
)

// Stage is one step of a translation job as reported by the service
type Stage string

// Stage constants (wire values are lowercase)
const (
	StageInitialized Stage = "initialized"
	StageOCR         Stage = "ocr"
	StageTranslation Stage = "translation"
	StageInpainting  Stage = "inpainting"
	StageRendering   Stage = "rendering"
	StageCompleted   Stage = "completed"
	StageError       Stage = "error"
)

// ParseStage normalizes a wire value. Unknown values are kept as-is.
func ParseStage(raw string) Stage {
	return Stage(strings.ToLower(strings.TrimSpace(raw)))
}

// IsTerminal reports whether no transition leaves the stage
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageError
}

// Known reports whether the stage is one the service documents
func (s Stage) Known() bool {
	switch s {
	case StageInitialized, StageOCR, StageTranslation, StageInpainting,
		StageRendering, StageCompleted, StageError:
		return true
	}
	return false
}

func (s Stage) String() string {
	return string(s)
}

// Language codes accepted by the service
const (
	LanguageEnglish     = "english"
	LanguageJapanese    = "japanese"
	LanguageKorean      = "korean"
	LanguageSimChinese  = "sim_chinese"
	LanguageTradChinese = "trad_chinese"
	LanguageVietnamese  = "vietnamese"
)

// Defaults used when the caller does not choose a language pair
const (
	DefaultSourceLanguage = LanguageJapanese
	DefaultTargetLanguage = LanguageEnglish
)

// MaxBatchSize bounds the number of images in one batch submission
const MaxBatchSize = 3

// Image is one input file ready for upload
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the payload size in bytes
func (i Image) Size() int64 {
	return int64(len(i.Data))
}

// SubmissionRequest is an immutable description of one submission. Build it
// with NewSubmissionRequest once the images have passed validation.
type SubmissionRequest struct {
	Images         []Image
	SourceLanguage string
	TargetLanguage string
	SessionID      string
}

// NewSubmissionRequest copies images and fills in the default language pair
func NewSubmissionRequest(images []Image, source, target, sessionID string) SubmissionRequest {
	if source == "" {
		source = DefaultSourceLanguage
	}
	if target == "" {
		target = DefaultTargetLanguage
	}
	return SubmissionRequest{
		Images:         append([]Image(nil), images...),
		SourceLanguage: source,
		TargetLanguage: target,
		SessionID:      sessionID,
	}
}

// IsBatch reports whether the request goes to the batch endpoint
func (r SubmissionRequest) IsBatch() bool {
	return len(r.Images) > 1
}

// StatusResponse is the body of GET /status/{session_id}
type StatusResponse struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Timestamp *string `json:"timestamp,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// StatusSnapshot is one observation of a job, ordered by Seq (arrival order)
type StatusSnapshot struct {
	JobID      string     `json:"job_id"`
	Stage      Stage      `json:"stage"`
	Message    string     `json:"message"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Error      string     `json:"error,omitempty"`
	Seq        int        `json:"seq"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Snapshot converts the wire response into a snapshot received at the given time
func (r StatusResponse) Snapshot(seq int, receivedAt time.Time) StatusSnapshot {
	snap := StatusSnapshot{
		JobID:      r.JobID,
		Stage:      ParseStage(r.Status),
		Message:    strings.TrimSpace(r.Message),
		Seq:        seq,
		ReceivedAt: receivedAt,
	}
	if r.Timestamp != nil {
		if ts, ok := parseTimestamp(*r.Timestamp); ok {
			snap.Timestamp = &ts
		}
	}
	if r.Error != nil {
		snap.Error = strings.TrimSpace(*r.Error)
	}
	return snap
}

// timestamps come from Python isoformat(), with or without an offset
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// LanguageOption is one entry of the supported languages list
type LanguageOption struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	SourceOnly bool   `json:"source_only,omitempty"`
}

// SupportedLanguagesResponse is the body of GET /supported-languages
type SupportedLanguagesResponse struct {
	Languages      []LanguageOption `json:"languages"`
	MaxFileSizeMB  float64          `json:"max_file_size_mb"`
	AllowedFormats []string         `json:"allowed_formats"`
}

// HasLanguage reports whether code is in the list
func (r SupportedLanguagesResponse) HasLanguage(code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, lang := range r.Languages {
		if strings.EqualFold(lang.Code, code) {
			return true
		}
	}
	return false
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status                       string   `json:"status"`
	Service                      string   `json:"service,omitempty"`
	Version                      string   `json:"version"`
	OCRModelsLoaded              int      `json:"ocr_models_loaded,omitempty"`
	TranslationServicesAvailable []string `json:"translation_services_available,omitempty"`
	UptimeSeconds                float64  `json:"uptime_seconds,omitempty"`
}

// ErrorPayload is the body of a non-2xx response
type ErrorPayload struct {
	Error      string `json:"error"`
	Detail     any    `json:"detail"`
	Type       string `json:"type,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

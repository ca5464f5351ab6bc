package app

import (
	"bytes"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
)

type fakeService struct {
	statusHits int32
	cancelHits int32
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/translate", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
			return
		}
		switch header.Filename {
		case "blank.png":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"validation_error","detail":"Invalid request parameters","type":"validation_error"}`))
			return
		case "queued.png":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("job queued"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", "inline; filename=translated_"+header.Filename)
		w.Header().Set("X-Text-Boxes-Count", "2")
		_, _ = w.Write(encodePNG(t, 400, 200))
	})
	mux.HandleFunc("GET /api/v1/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.statusHits, 1)
		w.Header().Set("Content-Type", "application/json")
		if r.PathValue("id") == "session_missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Session not found or expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"job_id":"` + r.PathValue("id") + `","status":"completed","message":"Translation completed successfully!"}`))
	})
	mux.HandleFunc("POST /api/v1/cancel/{id}", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.cancelHits, 1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"InkTranslator","version":"1.0.0","uptime_seconds":42}`))
	})
	mux.HandleFunc("GET /api/v1/supported-languages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"languages":[{"code":"english","name":"English"},{"code":"japanese","name":"Japanese"}],"max_file_size_mb":10,"allowed_formats":["image/jpeg","image/png"]}`))
	})
	return mux
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(w, h, color.White), imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// setupEnv points the CLI at a fake service and returns the output directory
func setupEnv(t *testing.T) (*fakeService, string, string) {
	t.Helper()
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	metricsFile := filepath.Join(dir, "ink.prom")

	t.Setenv("INK_ENV_FILE", "")
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("INK_API_URL", srv.URL+"/api/v1")
	t.Setenv("INK_API_TOKEN", "")
	t.Setenv("INK_OUTPUT_DIR", outDir)
	t.Setenv("INK_METRICS_FILE", metricsFile)
	t.Setenv("INK_POLL_INITIAL_DELAY", "0s")
	t.Setenv("INK_POLL_INTERVAL", "5ms")
	t.Setenv("INK_POLL_MAX_ATTEMPTS", "20")
	t.Setenv("INK_SOURCE_LANGUAGE", "japanese")
	t.Setenv("INK_TARGET_LANGUAGE", "english")
	t.Setenv("INK_CHECK_CONTENT", "true")
	return svc, dir, metricsFile
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := New(&stdout, &stderr).Run(args)
	return code, stdout.String(), stderr.String()
}

func TestTranslateCommand(t *testing.T) {
	_, dir, metricsFile := setupEnv(t)

	input := filepath.Join(dir, "page.png")
	if err := os.WriteFile(input, encodePNG(t, 120, 80), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	code, stdout, stderr := run("translate", "--preview", "--format", "json", input)
	if code != 0 {
		t.Fatalf("unexpected exit code %d, stderr:\n%s", code, stderr)
	}

	var result translateResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decode output %q: %v", stdout, err)
	}
	if !strings.HasPrefix(result.SessionID, "session_") || result.TextBoxes != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if filepath.Base(result.Artifact) != "translated_page.png" {
		t.Fatalf("unexpected artifact path: %s", result.Artifact)
	}
	for _, path := range []string{result.Artifact, result.Preview} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
	}

	raw, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(raw), `inktranslate_submissions_total{endpoint="translate",error_type="",outcome="success"} 1`) {
		t.Fatalf("unexpected metrics:\n%s", raw)
	}
}

func TestTranslateRejectsUnsupportedInput(t *testing.T) {
	_, dir, _ := setupEnv(t)

	input := filepath.Join(dir, "scan.bmp")
	if err := os.WriteFile(input, []byte("BM not really"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	code, _, stderr := run("translate", input)
	if code != 1 {
		t.Fatalf("unexpected exit code: got %d want 1", code)
	}
	if !strings.Contains(stderr, "validation_error") {
		t.Fatalf("expected validation error, got:\n%s", stderr)
	}
}

func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, encodePNG(t, 120, 80), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestTranslateShowsGuidanceForServiceValidationError(t *testing.T) {
	_, dir, _ := setupEnv(t)

	code, _, stderr := run("translate", writeInput(t, dir, "blank.png"))
	if code != 1 {
		t.Fatalf("unexpected exit code: got %d want 1", code)
	}
	if !strings.Contains(stderr, "validation_error") || !strings.Contains(stderr, "could not process") {
		t.Fatalf("expected 422 guidance, got:\n%s", stderr)
	}
}

func TestTranslateReportsNonImageResponse(t *testing.T) {
	_, dir, _ := setupEnv(t)

	code, stdout, stderr := run("translate", writeInput(t, dir, "queued.png"))
	if code != 1 {
		t.Fatalf("unexpected exit code: got %d want 1", code)
	}
	if !strings.Contains(stdout, "job queued") || !strings.Contains(stderr, "expected image response, got text") {
		t.Fatalf("unexpected output:\n%s\n%s", stdout, stderr)
	}
}

func TestBatchArgumentCount(t *testing.T) {
	setupEnv(t)

	if code, _, _ := run("batch", "a.png", "b.png", "c.png", "d.png"); code != 2 {
		t.Fatalf("unexpected exit code: got %d want 2", code)
	}
}

func TestStatusCommand(t *testing.T) {
	setupEnv(t)

	code, stdout, stderr := run("status", "session_1_abc")
	if code != 0 {
		t.Fatalf("unexpected exit code %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "completed") || !strings.Contains(stdout, "Translation completed successfully!") {
		t.Fatalf("unexpected output:\n%s", stdout)
	}

	code, _, stderr = run("status", "session_missing")
	if code != 1 || !strings.Contains(stderr, "Session not found or expired") {
		t.Fatalf("unexpected result for missing session: %d\n%s", code, stderr)
	}
}

func TestStatusFollow(t *testing.T) {
	svc, _, _ := setupEnv(t)

	code, stdout, stderr := run("status", "--follow", "session_2_abc")
	if code != 0 {
		t.Fatalf("unexpected exit code %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "[completed] Translation completed successfully!") {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
	if got := atomic.LoadInt32(&svc.statusHits); got != 1 {
		t.Fatalf("unexpected status queries: got %d want 1", got)
	}
}

func TestCancelHealthLanguages(t *testing.T) {
	svc, _, _ := setupEnv(t)

	if code, stdout, stderr := run("cancel", "session_3_abc"); code != 0 || !strings.Contains(stdout, "cancelled session_3_abc") {
		t.Fatalf("unexpected cancel result: %d\n%s\n%s", code, stdout, stderr)
	}
	if got := atomic.LoadInt32(&svc.cancelHits); got != 1 {
		t.Fatalf("unexpected cancel hits: got %d want 1", got)
	}

	code, stdout, stderr := run("health", "--format", "json")
	if code != 0 {
		t.Fatalf("unexpected health exit code %d:\n%s", code, stderr)
	}
	var health map[string]any
	if err := json.Unmarshal([]byte(stdout), &health); err != nil || health["status"] != "healthy" {
		t.Fatalf("unexpected health output %q: %v", stdout, err)
	}

	code, stdout, _ = run("health")
	if code != 0 || !strings.Contains(stdout, "endpoint") || !strings.Contains(stdout, "/api/v1") {
		t.Fatalf("unexpected health table: %d\n%s", code, stdout)
	}

	code, stdout, _ = run("languages")
	if code != 0 || !strings.Contains(stdout, "japanese") || !strings.Contains(stdout, "max file size: 10MB") {
		t.Fatalf("unexpected languages output: %d\n%s", code, stdout)
	}
	if !strings.Contains(stdout, "checked locally against: image/jpeg, image/png") {
		t.Fatalf("expected local formats in languages output:\n%s", stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := run("frobnicate")
	if code != 2 || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("unexpected result: %d\n%s", code, stderr)
	}
}

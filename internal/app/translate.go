package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/miya-dang/InkTranslator/internal/cli"
	"github.com/miya-dang/InkTranslator/internal/storage"
	"github.com/miya-dang/InkTranslator/pkg/pipeline"
	"github.com/miya-dang/InkTranslator/pkg/runner"
)

type translateResult struct {
	SessionID string `json:"session_id"`
	Artifact  string `json:"artifact"`
	Preview   string `json:"preview,omitempty"`
	Bytes     int    `json:"bytes"`
	TextBoxes int    `json:"text_boxes"`
}

func (a *App) runTranslate(args []string, batch bool) int {
	name := "translate"
	if batch {
		name = "batch"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	source := fs.String("source", "", "Source language (default INK_SOURCE_LANGUAGE)")
	target := fs.String("target", "", "Target language (default INK_TARGET_LANGUAGE)")
	outDir := fs.String("out", "", "Output directory (default INK_OUTPUT_DIR)")
	preview := fs.Bool("preview", false, "Also write a JPEG preview of the result")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	switch {
	case !batch && fs.NArg() != 1:
		fmt.Fprintln(a.stderr, "translate expects exactly one image path or URL")
		return 2
	case batch && (fs.NArg() < 1 || fs.NArg() > pipeline.MaxBatchSize):
		fmt.Fprintf(a.stderr, "batch expects between 1 and %d image paths or URLs\n", pipeline.MaxBatchSize)
		return 2
	}

	outputFormat, err := parseOutputFormat(*format)
	if err != nil {
		fmt.Fprintf(a.stderr, "Invalid format: %v\n", err)
		return 2
	}

	env, err := a.setup(envLoader)
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return 1
	}
	defer env.flush()

	sourceLanguage := firstNonEmpty(*source, env.cfg.SourceLanguage)
	targetLanguage := firstNonEmpty(*target, env.cfg.TargetLanguage)
	outputDir := firstNonEmpty(*outDir, env.cfg.OutputDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	images := make([]pipeline.Image, 0, fs.NArg())
	for _, ref := range fs.Args() {
		img, err := loadInput(ctx, ref)
		if err != nil {
			fmt.Fprintf(a.stderr, "Failed to read %s: %v\n", ref, err)
			return 1
		}
		images = append(images, img)
	}

	opts := []runner.Option{runner.WithLogger(env.logger)}
	if env.metrics != nil {
		opts = append(opts, runner.WithRecorder(env.metrics))
	}
	r := runner.New(env.cfg.RunnerConfig(), opts...)
	defer r.Shutdown()

	stop := a.cancelOnInterrupt(r, cancel)
	defer stop()

	sessionID := r.SessionID()
	fmt.Fprintf(a.stderr, "session %s: %s -> %s\n", sessionID, sourceLanguage, targetLanguage)

	resp, err := r.Translate(ctx, images, sourceLanguage, targetLanguage, func(s pipeline.StatusSnapshot) {
		fmt.Fprintf(a.stderr, "[%s] %s\n", s.Stage, s.Message)
	})
	if err != nil {
		a.reportError("Translation", err)
		return 1
	}
	art, err := resp.Image()
	if err != nil {
		a.reportError("Translation", err)
		fmt.Fprintln(a.stdout, resp.Body())
		return 1
	}

	store, err := storage.NewFilesystemStorage(outputDir)
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return 1
	}
	saved, err := storage.NewDerivedWriter(store, env.logger).PutDerived(ctx, art, images[0].Name, *preview)
	if err != nil {
		fmt.Fprintf(a.stderr, "Failed to save result: %v\n", err)
		return 1
	}

	result := translateResult{
		SessionID: sessionID,
		Artifact:  saved.Artifact,
		Preview:   saved.Preview,
		Bytes:     art.Size(),
		TextBoxes: art.TextBoxes,
	}
	if outputFormat == outputFormatJSON {
		if err := a.printJSON(result); err != nil {
			fmt.Fprintf(a.stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"session_id", result.SessionID},
		{"artifact", result.Artifact},
		{"bytes", strconv.Itoa(result.Bytes)},
		{"text_boxes", strconv.Itoa(result.TextBoxes)},
	}
	if result.Preview != "" {
		rows = append(rows, []string{"preview", result.Preview})
	}
	if err := a.writeTable([]string{"field", "value"}, rows); err != nil {
		fmt.Fprintf(a.stderr, "Failed to render result: %v\n", err)
		return 1
	}
	return 0
}

// cancelOnInterrupt cancels the session and aborts the submission on the
// first SIGINT or SIGTERM. The returned func releases the signal handler.
func (a *App) cancelOnInterrupt(r *runner.Runner, abort context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			next := r.Cancel(ctx)
			cancel()
			fmt.Fprintf(a.stderr, "cancelled; next session %s\n", next)
			abort()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// loadInput reads a local path or an http(s) URL
func loadInput(ctx context.Context, ref string) (pipeline.Image, error) {
	if storage.IsURL(ref) {
		return storage.LoadImage(ctx, storage.NewHTTPContentReader(""), ref)
	}
	return storage.LoadImage(ctx, storage.NewFilesystemReader(filepath.Dir(ref)), filepath.Base(ref))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

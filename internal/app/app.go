package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/miya-dang/InkTranslator/internal/cli"
	"github.com/miya-dang/InkTranslator/internal/config"
	"github.com/miya-dang/InkTranslator/internal/logging"
	"github.com/miya-dang/InkTranslator/internal/metrics"
	"github.com/miya-dang/InkTranslator/pkg/client"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// App runs CLI commands against the given output streams
type App struct {
	stdout io.Writer
	stderr io.Writer
}

// New creates an App writing to stdout and stderr
func New(stdout, stderr io.Writer) *App {
	return &App{stdout: stdout, stderr: stderr}
}

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	return New(os.Stdout, os.Stderr).Run(args)
}

// Run executes the CLI command and returns a process exit code.
func (a *App) Run(args []string) int {
	if len(args) == 0 {
		a.printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		a.printUsage()
		return 0
	case "translate":
		return a.runTranslate(args[1:], false)
	case "batch":
		return a.runTranslate(args[1:], true)
	case "status":
		return a.runStatus(args[1:])
	case "cancel":
		return a.runCancel(args[1:])
	case "health":
		return a.runHealth(args[1:])
	case "languages":
		return a.runLanguages(args[1:])
	default:
		fmt.Fprintf(a.stderr, "unknown command: %s\n\n", args[0])
		a.printUsage()
		return 2
	}
}

func (a *App) printUsage() {
	fmt.Fprintln(a.stderr, "inktranslate CLI")
	fmt.Fprintln(a.stderr, "")
	fmt.Fprintln(a.stderr, "Usage:")
	fmt.Fprintln(a.stderr, "  inktranslate <command> [flags]")
	fmt.Fprintln(a.stderr, "")
	fmt.Fprintln(a.stderr, "Commands:")
	fmt.Fprintln(a.stderr, "  translate  Translate one image (path or URL) and save the result")
	fmt.Fprintln(a.stderr, "  batch      Translate up to three images in one request")
	fmt.Fprintln(a.stderr, "  status     Show the progress of a session")
	fmt.Fprintln(a.stderr, "  cancel     Ask the service to drop a session")
	fmt.Fprintln(a.stderr, "  health     Check the translation service")
	fmt.Fprintln(a.stderr, "  languages  List supported languages")
	fmt.Fprintln(a.stderr, "")
	fmt.Fprintln(a.stderr, "Use \"inktranslate <command> -h\" for command-specific flags.")
}

// environment is the shared state every command builds from .env and config
type environment struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func (a *App) setup(envLoader *cli.EnvLoader) (*environment, error) {
	envPath, err := envLoader.Load()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewWithWriter(a.stderr, cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if envPath != "" {
		logger.Debug().Str("path", envPath).Msg("app.env.loaded")
	}

	env := &environment{cfg: cfg, logger: logger}
	if cfg.MetricsFile != "" {
		env.metrics = metrics.New()
	}
	return env, nil
}

// flush writes the metrics textfile, if one is configured
func (e *environment) flush() {
	if err := e.metrics.WriteTextfile(e.cfg.MetricsFile); err != nil {
		e.logger.Warn().Err(err).Str("path", e.cfg.MetricsFile).Msg("app.metrics.write_failed")
	}
}

func (e *environment) client() *client.Client {
	return client.New(e.cfg.APIURL,
		client.WithAuthToken(e.cfg.APIToken),
		client.WithTimeout(e.cfg.SubmitTimeout),
		client.WithStatusTimeout(e.cfg.StatusTimeout),
		client.WithContentCheck(e.cfg.CheckContent),
		client.WithLogger(e.logger),
	)
}

// reportError prints err and, unless it was raised before any request went
// out, what the user can do
func (a *App) reportError(action string, err error) {
	fmt.Fprintf(a.stderr, "%s failed: %v\n", action, err)
	var cerr *client.Error
	if errors.As(err, &cerr) && !client.IsPrecondition(err) {
		fmt.Fprintln(a.stderr, cerr.Guidance())
	}
}

func parseOutputFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", outputFormatTable:
		return outputFormatTable, nil
	case outputFormatJSON:
		return outputFormatJSON, nil
	}
	return "", fmt.Errorf("unsupported format %q", raw)
}

func (a *App) printJSON(value any) error {
	encoder := json.NewEncoder(a.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (a *App) writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(a.stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miya-dang/InkTranslator/internal/cli"
	"github.com/miya-dang/InkTranslator/pkg/pipeline"
	"github.com/miya-dang/InkTranslator/pkg/poller"
	"github.com/miya-dang/InkTranslator/pkg/validation"
)

func (a *App) runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	follow := fs.Bool("follow", false, "Keep polling until the job finishes")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.stderr, "status expects exactly one session id")
		return 2
	}
	sessionID := fs.Arg(0)

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

	c := env.client()
	ctx := context.Background()

	if *follow {
		rc := env.cfg.RunnerConfig()
		var recorder poller.Recorder
		if env.metrics != nil {
			recorder = env.metrics
		}
		out := poller.New(c, rc.Poll, env.logger, recorder).Run(ctx, sessionID, func(s pipeline.StatusSnapshot) {
			fmt.Fprintf(a.stdout, "[%s] %s\n", s.Stage, s.Message)
		})
		fmt.Fprintf(a.stderr, "stopped: %s after %d queries\n", out.Reason, out.Attempts)
		if out.Reason == poller.ReasonFailed {
			a.reportError("Status", out.Err)
			return 1
		}
		return 0
	}

	snap, err := c.Status(ctx, sessionID)
	if err != nil {
		a.reportError("Status", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := a.printJSON(snap); err != nil {
			fmt.Fprintf(a.stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"job_id", snap.JobID},
		{"stage", string(snap.Stage)},
		{"message", snap.Message},
		{"terminal", strconv.FormatBool(snap.Stage.IsTerminal())},
	}
	if snap.Timestamp != nil {
		rows = append(rows, []string{"timestamp", snap.Timestamp.Format(time.RFC3339)})
	}
	if snap.Error != "" {
		rows = append(rows, []string{"error", snap.Error})
	}
	if err := a.writeTable([]string{"field", "value"}, rows); err != nil {
		fmt.Fprintf(a.stderr, "Failed to render status: %v\n", err)
		return 1
	}
	return 0
}

func (a *App) runCancel(args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.stderr, "cancel expects exactly one session id")
		return 2
	}

	env, err := a.setup(envLoader)
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return 1
	}
	defer env.flush()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	err = env.client().Cancel(ctx, fs.Arg(0))
	env.metrics.ObserveCancellation(err)
	if err != nil {
		a.reportError("Cancel", err)
		return 1
	}
	fmt.Fprintf(a.stdout, "cancelled %s\n", fs.Arg(0))
	return 0
}

func (a *App) runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(a.stderr, "health does not accept positional arguments")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := env.client()
	health, err := c.Health(ctx)
	if err != nil {
		a.reportError("Health check", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := a.printJSON(health); err != nil {
			fmt.Fprintf(a.stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"status", health.Status},
		{"service", health.Service},
		{"version", health.Version},
		{"ocr_models_loaded", strconv.Itoa(health.OCRModelsLoaded)},
		{"translation_services", strings.Join(health.TranslationServicesAvailable, ",")},
		{"uptime_seconds", strconv.FormatFloat(health.UptimeSeconds, 'f', 0, 64)},
		{"endpoint", c.BaseURL()},
	}
	if err := a.writeTable([]string{"field", "value"}, rows); err != nil {
		fmt.Fprintf(a.stderr, "Failed to render health: %v\n", err)
		return 1
	}
	return 0
}

func (a *App) runLanguages(args []string) int {
	fs := flag.NewFlagSet("languages", flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	langs, err := env.client().SupportedLanguages(ctx)
	if err != nil {
		a.reportError("Listing languages", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := a.printJSON(langs); err != nil {
			fmt.Fprintf(a.stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(langs.Languages))
	for _, lang := range langs.Languages {
		rows = append(rows, []string{lang.Code, lang.Name, strconv.FormatBool(lang.SourceOnly)})
	}
	if err := a.writeTable([]string{"code", "name", "source_only"}, rows); err != nil {
		fmt.Fprintf(a.stderr, "Failed to render languages: %v\n", err)
		return 1
	}
	fmt.Fprintf(a.stdout, "\nmax file size: %gMB, formats: %s\n", langs.MaxFileSizeMB, strings.Join(langs.AllowedFormats, ", "))
	fmt.Fprintf(a.stdout, "uploads are checked locally against: %s\n", strings.Join(validation.AllowedContentTypes(), ", "))
	return 0
}

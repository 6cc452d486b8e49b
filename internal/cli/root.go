package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tiktokmodcloud/internal/captcha"
	"tiktokmodcloud/internal/config"
	"tiktokmodcloud/internal/domain"
	"tiktokmodcloud/internal/metrics"
)

// App holds the command dependencies. Zero fields fall back to the real
// implementations.
type App struct {
	Out io.Writer
	Err io.Writer

	LoadConfig  func(path string) (config.Config, error)
	NewRunner   func(cfg config.Config, log *slog.Logger) (Runner, error)
	SetupLogger func(level, file string, stderr io.Writer) (func() error, error)
	// Progress reports whether download progress bars are drawn.
	Progress bool

	jsonOut    bool
	configPath string
}

// NewApp returns an App wired to the process streams.
func NewApp() *App {
	return &App{
		Out:         os.Stdout,
		Err:         os.Stderr,
		LoadConfig:  config.Load,
		NewRunner:   NewPipelineRunner,
		SetupLogger: SetupLogger,
		Progress:    isTerminal(os.Stderr),
	}
}

// Execute runs the command line and returns the process exit code.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := a.Command()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var pe *PipelineError
	if !errors.As(err, &pe) {
		// Pipeline failures are reported where they happen.
		a.reportError("", err)
	}
	return ExitCode(err)
}

// Command builds the cobra command tree.
func (a *App) Command() *cobra.Command {
	a.defaults()
	root := &cobra.Command{
		Use:           "tiktokmodcloud",
		Short:         "Check and download the latest TikTok mod and plugin APKs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.Out)
	root.SetErr(a.Err)
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultPath+" when present)")

	root.AddCommand(
		a.targetCommand("mod", "Work with the TikTok mod APK", domain.TargetMod),
		a.targetCommand("plugin", "Work with the TikTok plugin APK", domain.TargetPlugin),
		a.targetCommand("both", "Work with the mod and the plugin", domain.TargetMod, domain.TargetPlugin),
	)
	return root
}

func (a *App) targetCommand(use, short string, targets ...domain.Target) *cobra.Command {
	var check, download bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			action := actionDownload
			if check {
				action = actionCheck
			}
			return a.run(cmd.Context(), action, targets)
		},
	}
	cmd.Flags().BoolVarP(&check, "check", "c", false, "print the latest version")
	cmd.Flags().BoolVarP(&download, "download", "d", false, "download the latest APK")
	cmd.MarkFlagsMutuallyExclusive("check", "download")
	cmd.MarkFlagsOneRequired("check", "download")
	return cmd
}

const (
	actionCheck    = "check"
	actionDownload = "download"
)

func (a *App) run(ctx context.Context, action string, targets []domain.Target) error {
	cfg, err := a.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if action == actionDownload && cfg.Capsolver.APIKey == "" {
		return captcha.ErrMissingAPIKey
	}
	closeLog, err := a.SetupLogger(cfg.Log.Level, cfg.Log.File, a.Err)
	if err != nil {
		return err
	}
	defer closeLog()

	outputDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return err
	}
	ui := Logger{Quiet: a.jsonOut, Out: a.Out, Err: a.Err}

	jobs := cfg.Jobs
	if jobs < 1 {
		jobs = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			log := slog.Default().With("run_id", uuid.NewString(), "target", string(t))
			runner, err := a.NewRunner(cfg, log)
			if err != nil {
				return fmt.Errorf("%s: %w", t, err)
			}
			if action == actionCheck {
				err = a.check(ctx, ui, runner, t)
			} else {
				err = a.download(ctx, ui, runner, t, outputDir)
			}
			result := "ok"
			if err != nil {
				result = "error"
			}
			metrics.PipelineRuns.WithLabelValues(string(t), action, result).Inc()
			return err
		})
	}
	err = g.Wait()

	if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
		slog.Warn("Write metrics failed", "path", cfg.MetricsFile, "error", werr)
	}
	return err
}

func (a *App) check(ctx context.Context, ui Logger, runner Runner, t domain.Target) error {
	ui.Info("Checking " + string(t))
	res, err := runner.Check(ctx, t)
	if err != nil {
		return a.fail(ui, t, actionCheck, err)
	}
	if a.jsonOut {
		return WriteJSON(a.Out, res)
	}
	writeLog(a.Out, "Version:", res.Version)
	return nil
}

func (a *App) download(ctx context.Context, ui Logger, runner Runner, t domain.Target, outputDir string) error {
	ui.Info("Downloading " + string(t))
	progress := NewDownloadProgress(string(t), a.Err, a.Progress && !a.jsonOut)
	res, err := runner.Download(ctx, t, domain.DownloadOptions{
		OutputDir:  outputDir,
		OnProgress: progress.Update,
	})
	progress.Stop()
	if err != nil {
		return a.fail(ui, t, actionDownload, err)
	}
	if a.jsonOut {
		return WriteJSON(a.Out, res)
	}
	ui.Success("Downloaded: " + res.Path)
	return nil
}

// fail reports err and marks it as a pipeline failure. Cancellation counts as
// one too.
func (a *App) fail(ui Logger, t domain.Target, action string, err error) error {
	if a.jsonOut {
		_ = WriteJSON(a.Out, errorOutput{Target: string(t), Error: err.Error()})
	} else {
		ui.Failure(string(t) + " -> " + err.Error())
	}
	return &PipelineError{Target: string(t), Action: action, Err: err}
}

func (a *App) reportError(target string, err error) {
	if a.jsonOut {
		_ = WriteJSON(a.Out, errorOutput{Target: target, Error: err.Error()})
		return
	}
	Logger{Out: a.Out, Err: a.Err}.Error(err.Error())
}

func (a *App) defaults() {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.Err == nil {
		a.Err = os.Stderr
	}
	if a.LoadConfig == nil {
		a.LoadConfig = config.Load
	}
	if a.NewRunner == nil {
		a.NewRunner = NewPipelineRunner
	}
	if a.SetupLogger == nil {
		a.SetupLogger = SetupLogger
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/notify"
	"github.com/roach88/cadence/internal/pipeline"
	"github.com/roach88/cadence/internal/store"
)

// durationPrecision is the rounding applied to durations in text output.
const durationPrecision = time.Millisecond

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Channel string
	DryRun  bool
	Force   bool
	Inputs  []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <pipeline-id>",
		Short: "Execute one pipeline",
		Long: `Execute a pipeline from the loaded configuration.

The pipeline's preconditions (time window, learned timing rule) are
evaluated first unless --force is given. With --dry-run every
side-effecting step reports a synthetic success instead of touching a
platform.

Example:
  cadence run morning-post --channel main --dry-run
  cadence run evening-sweep --force`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "channel profile to run under")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "suppress all side effects")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "skip pipeline preconditions")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "starting variable as key=value (repeatable)")

	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunOptions, pipelineID string) error {
	inputs, err := parseInputs(opts.Inputs)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --input", err)
	}

	snap, err := config.NewLoader(opts.ConfigDir,
		config.WithServiceChecker(pipeline.BuiltinServices())).Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	runner := pipeline.NewRunner(snap, st,
		pipeline.WithNotifier(notify.NewConsole(slog.Default())),
	)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, cancelling run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	result := runner.Run(ctx, pipelineID, pipeline.Options{
		Channel: opts.Channel,
		DryRun:  opts.DryRun,
		Force:   opts.Force,
		Verbose: opts.Verbose,
		Inputs:  inputs,
	})

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	return reportRun(formatter, pipelineID, result)
}

// runSummary is the serializable outcome of one run.
type runSummary struct {
	Pipeline      string   `json:"pipeline"`
	Success       bool     `json:"success"`
	StepsExecuted int      `json:"steps_executed"`
	DurationMS    int64    `json:"duration_ms"`
	FailedStep    string   `json:"failed_step,omitempty"`
	Errors        []string `json:"errors,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func reportRun(f *OutputFormatter, pipelineID string, result *pipeline.Result) error {
	summary := runSummary{
		Pipeline:      pipelineID,
		Success:       result.Success,
		StepsExecuted: result.StepsExecuted,
		DurationMS:    result.Duration.Milliseconds(),
		FailedStep:    result.FailedStep,
		Errors:        result.Errors,
	}
	if result.Err != nil {
		summary.Error = result.Err.Error()
	}

	if result.Success {
		if f.Format == "json" {
			return f.Success(summary)
		}
		fmt.Fprintf(f.Writer, "pipeline %s succeeded: %d step(s) in %s\n",
			pipelineID, result.StepsExecuted, result.Duration.Round(durationPrecision))
		return nil
	}

	code := ErrCodeRunFailed
	if pipeline.IsConfigError(result.Err) {
		code = ErrCodeConfig
	}
	message := fmt.Sprintf("pipeline %s failed: %d step(s) in %s",
		pipelineID, result.StepsExecuted, result.Duration.Round(durationPrecision))
	if err := f.Error(code, message, summary); err != nil {
		return err
	}
	if f.Format != "json" {
		if result.Err != nil {
			fmt.Fprintf(f.Writer, "  error: %v\n", result.Err)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(f.Writer, "  step error: %s\n", e)
		}
	}

	if code == ErrCodeConfig {
		return NewExitError(ExitCommandError, "run rejected by configuration")
	}
	return NewExitError(ExitFailure, "run did not succeed")
}

// parseInputs turns repeated key=value flags into starting variables.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

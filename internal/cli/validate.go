package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/pipeline"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config directory without running anything",
		Long: `Load and validate every config document: bounds, channels, pipeline
definitions, and the learned rules file. Service references are checked
against the built-in service registry. Exits 1 when the config is
invalid, 2 when the config directory is missing.

Example:
  cadence validate --config ./config`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts)
		},
	}
	return cmd
}

// validateReport is the serializable outcome of a config validation.
type validateReport struct {
	Valid        bool     `json:"valid"`
	Pipelines    []string `json:"pipelines"`
	Channels     []string `json:"channels"`
	RulesVersion int      `json:"rules_version"`
	Problem      string   `json:"problem,omitempty"`
}

func runValidate(cmd *cobra.Command, opts *RootOptions) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	snap, err := config.NewLoader(opts.ConfigDir,
		config.WithServiceChecker(pipeline.BuiltinServices())).Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("config directory not found: %s", opts.ConfigDir), err)
		}
		if fmtErr := formatter.Error(ErrCodeConfig, err.Error(), nil); fmtErr != nil {
			return fmtErr
		}
		return NewExitError(ExitFailure, "config is invalid")
	}

	report := validateReport{
		Valid:        true,
		Pipelines:    snap.PipelineIDs(),
		Channels:     snap.ChannelIDs(),
		RulesVersion: snap.Rules().Version,
	}
	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	fmt.Fprintf(formatter.Writer, "OK: %d pipeline(s), %d channel(s), rules version %d\n",
		len(report.Pipelines), len(report.Channels), report.RulesVersion)
	if len(report.Pipelines) > 0 {
		fmt.Fprintf(formatter.Writer, "  pipelines: %s\n", strings.Join(report.Pipelines, ", "))
	}
	if len(report.Channels) > 0 {
		fmt.Fprintf(formatter.Writer, "  channels: %s\n", strings.Join(report.Channels, ", "))
	}
	return nil
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/pipeline"
	"github.com/roach88/cadence/internal/rules"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Show learned rules and how they are gated",
		Long: `List every learned rule with its confidence score and the
enforcement gate the bounds assign to it: ignore (below the confidence
floor), active, auto_apply, or require_approval.

Example:
  cadence rules --config ./config --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd, rootOpts)
		},
	}
	return cmd
}

// ruleRow is one learned rule in the report.
type ruleRow struct {
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	Detail     string  `json:"detail,omitempty"`
	Confidence float64 `json:"confidence"`
	Gate       string  `json:"gate"`
}

// rulesReport is the serializable rules listing.
type rulesReport struct {
	Version    int                    `json:"version"`
	Confidence rules.ConfidenceLevels `json:"confidence_thresholds"`
	Rules      []ruleRow              `json:"rules"`
}

func runRules(cmd *cobra.Command, opts *RootOptions) error {
	snap, err := config.NewLoader(opts.ConfigDir,
		config.WithServiceChecker(pipeline.BuiltinServices())).Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	engine := rules.New(snap.Bounds(), snap.Rules(), nil)
	report := buildRulesReport(engine, snap.Bounds(), snap.Rules())

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "Learned rules version %d (floor %.2f, auto-apply %.2f, approval %.2f)\n",
		report.Version, report.Confidence.MinToApply, report.Confidence.AutoApply, report.Confidence.RequireApproval)
	if len(report.Rules) == 0 {
		fmt.Fprintln(formatter.Writer, "  no learned rules")
		return nil
	}
	for _, row := range report.Rules {
		line := fmt.Sprintf("  [%-16s] %s/%s confidence %.2f", row.Gate, row.Kind, row.Name, row.Confidence)
		if row.Detail != "" {
			line += " (" + row.Detail + ")"
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	return nil
}

// buildRulesReport flattens the rules state into gated rows.
func buildRulesReport(engine *rules.Engine, bounds rules.Bounds, state rules.State) rulesReport {
	report := rulesReport{
		Version:    state.Version,
		Confidence: bounds.Confidence,
	}
	add := func(kind, name, detail string, confidence float64) {
		report.Rules = append(report.Rules, ruleRow{
			Kind:       kind,
			Name:       name,
			Detail:     detail,
			Confidence: confidence,
			Gate:       string(engine.GateFor(confidence)),
		})
	}

	t := state.Timing
	if len(t.BestHours) > 0 || len(t.AvoidHours) > 0 || len(t.AvoidDays) > 0 {
		add("timing", "posting_windows", timingDetail(t), t.Confidence)
	}
	for _, c := range state.Content {
		add("content", c.Name, fmt.Sprintf("%s -> %s", c.Pattern, c.Action), c.Confidence)
	}
	if eg := state.Engagement.FollowBack; eg.Filter != "" {
		add("engagement", "follow_back", eg.Filter, eg.Confidence)
	}
	if eg := state.Engagement.Reply; eg.Style != "" {
		add("engagement", "reply", fmt.Sprintf("style %s, delay %dm", eg.Style, eg.DelayMinutes), eg.Confidence)
	}
	if eg := state.Engagement.Like; len(eg.Topics) > 0 {
		add("engagement", "like", strings.Join(eg.Topics, ", "), eg.Confidence)
	}
	if eg := state.Engagement.Repost; len(eg.Topics) > 0 {
		add("engagement", "repost", strings.Join(eg.Topics, ", "), eg.Confidence)
	}
	if h := state.Hashtags; len(h.Preferred) > 0 {
		add("hashtags", "preferred", strings.Join(h.Preferred, " "), h.Confidence)
	}
	return report
}

// timingDetail summarizes a timing rule for display.
func timingDetail(t rules.TimingRule) string {
	var parts []string
	if len(t.BestHours) > 0 {
		parts = append(parts, fmt.Sprintf("best hours %v", t.BestHours))
	}
	if len(t.AvoidHours) > 0 {
		parts = append(parts, fmt.Sprintf("avoid hours %v", t.AvoidHours))
	}
	if len(t.AvoidDays) > 0 {
		parts = append(parts, "avoid days "+strings.Join(t.AvoidDays, ", "))
	}
	return strings.Join(parts, "; ")
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/similarity"
	"github.com/roach88/cadence/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Platform  string
	Threshold float64
	Algorithm string
	Limit     int
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Scan the recent corpus for near-duplicate pairs",
		Long: `Compare every pair within the recent corpus (pending queue items
plus published posts) and report the pairs that score at or above the
threshold. Exits 1 when any duplicate pair exists.

Example:
  cadence audit --limit 200 --threshold 0.7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Platform, "platform", "", "restrict the corpus to one platform")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", similarity.DefaultThreshold, "similarity score treated as duplicate")
	cmd.Flags().StringVar(&opts.Algorithm, "algorithm", string(similarity.AlgorithmDice), "scoring algorithm (dice|tfidf|jaccard)")
	cmd.Flags().IntVar(&opts.Limit, "limit", similarity.DefaultCorpusLimit, "maximum corpus size")

	return cmd
}

// auditPair is one reported duplicate pair.
type auditPair struct {
	Score    float64 `json:"score"` // percentage
	ContentA string  `json:"content_a"`
	ContentB string  `json:"content_b"`
}

// auditReport is the serializable outcome of one corpus audit.
type auditReport struct {
	CorpusSize int         `json:"corpus_size"`
	Threshold  float64     `json:"threshold"` // percentage
	Duplicates []auditPair `json:"duplicates"`
}

func runAudit(cmd *cobra.Command, opts *AuditOptions) error {
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database), err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	corpus, err := st.RecentContent(cmd.Context(), opts.Platform, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load recent content", err)
	}

	matches, err := similarity.CheckBatch(cmd.Context(), corpus, similarity.Options{
		Threshold: opts.Threshold,
		Algorithm: similarity.Algorithm(opts.Algorithm),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "audit failed", err)
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = similarity.DefaultThreshold
	}
	report := auditReport{
		CorpusSize: len(corpus),
		Threshold:  threshold * 100,
		Duplicates: make([]auditPair, 0, len(matches)),
	}
	for _, m := range matches {
		report.Duplicates = append(report.Duplicates, auditPair{
			Score:    m.Score * 100,
			ContentA: corpus[m.I],
			ContentB: corpus[m.J],
		})
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	formatter.VerboseLog("compared %d pair(s) across %d post(s)", len(corpus)*(len(corpus)-1)/2, len(corpus))
	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else if len(report.Duplicates) == 0 {
		fmt.Fprintf(formatter.Writer, "OK: no duplicate pairs in %d recent post(s) (threshold %.0f%%)\n",
			report.CorpusSize, report.Threshold)
	} else {
		if err := formatter.Error(ErrCodeDuplicate, fmt.Sprintf(
			"%d duplicate pair(s) in %d recent post(s) (threshold %.0f%%)",
			len(report.Duplicates), report.CorpusSize, report.Threshold), nil); err != nil {
			return err
		}
		for _, p := range report.Duplicates {
			fmt.Fprintf(formatter.Writer, "  %.0f%%  %q <-> %q\n", p.Score, truncate(p.ContentA, 60), truncate(p.ContentB, 60))
		}
	}

	if len(report.Duplicates) > 0 {
		return NewExitError(ExitFailure, "duplicate pairs detected")
	}
	return nil
}

// truncate shortens s to n runes for single-line display. Slicing on runes
// keeps multibyte content (the corpus is often Korean) intact.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

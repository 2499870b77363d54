package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cadence/internal/similarity"
	"github.com/roach88/cadence/internal/store"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	File      string
	Platform  string
	Threshold float64
	Algorithm string
	Limit     int
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check [content]",
		Short: "Check content against recent posts for duplicates",
		Long: `Check a piece of content against the recent corpus (pending queue
items plus published posts) and report whether it is a near-duplicate.

Content comes from the argument, --file, or stdin, in that order.

Exit codes:
  0  content is sufficiently different
  1  duplicate detected
  2  empty content, missing database, or other command error

Example:
  cadence check "Shipping the new release today"
  cat draft.txt | cadence check --threshold 0.7 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "read content from a file")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "restrict the corpus to one platform")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", similarity.DefaultThreshold, "similarity score treated as duplicate")
	cmd.Flags().StringVar(&opts.Algorithm, "algorithm", string(similarity.AlgorithmDice), "scoring algorithm (dice|tfidf|jaccard)")
	cmd.Flags().IntVar(&opts.Limit, "limit", similarity.DefaultCorpusLimit, "maximum corpus size")

	return cmd
}

// checkReport is the serializable outcome of one duplicate check.
type checkReport struct {
	IsDuplicate    bool    `json:"is_duplicate"`
	Similarity     float64 `json:"similarity"` // percentage
	Threshold      float64 `json:"threshold"`  // percentage
	SimilarContent string  `json:"similar_content,omitempty"`
	CorpusSize     int     `json:"corpus_size"`
}

func runCheck(cmd *cobra.Command, opts *CheckOptions, args []string) error {
	content, err := readCheckContent(cmd.InOrStdin(), opts.File, args)
	if err != nil {
		return err
	}

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

	res := similarity.Check(content, similarity.Options{
		Threshold:  opts.Threshold,
		Algorithm:  similarity.Algorithm(opts.Algorithm),
		CompareSet: corpus,
	})

	report := checkReport{
		IsDuplicate: res.IsSimilar,
		Similarity:  res.HighestSimilarity * 100,
		Threshold:   res.Threshold * 100,
		CorpusSize:  len(corpus),
	}
	if res.IsSimilar {
		report.SimilarContent = res.MatchedContent
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	formatter.VerboseLog("compared against %d recent post(s) using %s", len(corpus), opts.Algorithm)
	// The json shape always reports the verdict as data, duplicate or not,
	// so scripted callers read one format for both outcomes.
	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else if res.IsSimilar {
		if err := formatter.Error(ErrCodeDuplicate, fmt.Sprintf(
			"content is %.0f%% similar to a recent post (threshold %.0f%%)",
			report.Similarity, report.Threshold), res.MatchedContent); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "OK: highest similarity %.0f%% against %d recent post(s) (threshold %.0f%%)\n",
			report.Similarity, report.CorpusSize, report.Threshold)
	}

	if res.IsSimilar {
		return NewExitError(ExitFailure, "duplicate content detected")
	}
	return nil
}

// readCheckContent resolves the content source: positional argument first,
// then --file, then stdin. Empty content is a command error.
func readCheckContent(stdin io.Reader, file string, args []string) (string, error) {
	var content string
	switch {
	case len(args) == 1:
		content = args[0]
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", WrapExitError(ExitCommandError, "failed to read content file", err)
		}
		content = string(data)
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
		content = string(data)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", NewExitError(ExitCommandError, "no content provided")
	}
	return content, nil
}

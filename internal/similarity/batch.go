package similarity

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// PairMatch reports one pair of corpus entries at or above the threshold.
type PairMatch struct {
	I, J  int // indexes into the audited list, I < J
	Score float64
}

// CheckBatch compares all pairs within contents and reports every pair at
// or above the threshold. Useful for offline audits of an existing corpus.
//
// Rows are scored concurrently on a bounded worker pool; results are
// ordered by (I, J), not by completion order.
func CheckBatch(ctx context.Context, contents []string, opts Options) ([]PairMatch, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	algo := opts.Algorithm
	if algo == "" {
		algo = AlgorithmDice
	}

	pre := make([]string, len(contents))
	for i, c := range contents {
		pre[i] = Preprocess(c)
	}

	rows := make([][]PairMatch, len(contents))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := 0; i < len(pre)-1; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scores := scoreAgainst(pre[i], pre[i+1:], algo)
			var row []PairMatch
			for k, s := range scores {
				if s >= threshold {
					row = append(row, PairMatch{I: i, J: i + 1 + k, Score: s})
				}
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []PairMatch
	for _, row := range rows {
		out = append(out, row...)
	}
	return out, nil
}

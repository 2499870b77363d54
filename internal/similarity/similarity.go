// Package similarity detects near-duplicate content before it is published.
//
// Every comparison runs the same preprocessing (URL/mention/hashtag
// stripping, Unicode normalization, case folding, whitespace collapse) and
// then one of three scorers: Dice bigram coefficient (default), TF-IDF
// cosine, or Jaccard token overlap. Scores are in [0, 1]; two strings with
// identical preprocessed forms score exactly 1.0 under every algorithm.
//
// The package is a pure function over supplied strings. Bounding the corpus
// (recent N posts per platform) is the caller's job, typically via
// Storage.RecentContent.
package similarity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the score at or above which content is considered a
// duplicate.
const DefaultThreshold = 0.6

// DefaultCorpusLimit bounds how many recent posts a caller should compare
// against, keeping a check linear in a small constant.
const DefaultCorpusLimit = 100

// Algorithm selects the scoring function. All algorithms share preprocessing.
type Algorithm string

const (
	// AlgorithmDice scores by character-bigram Dice coefficient.
	AlgorithmDice Algorithm = "dice"
	// AlgorithmTFIDF scores by cosine similarity of TF-IDF weighted
	// term vectors, with inverse document frequency taken over the
	// candidate plus the compare set.
	AlgorithmTFIDF Algorithm = "tfidf"
	// AlgorithmJaccard scores by token-set intersection over union.
	AlgorithmJaccard Algorithm = "jaccard"
)

// Options configures a duplicate check.
type Options struct {
	// Threshold at or above which IsSimilar is set. Zero means
	// DefaultThreshold.
	Threshold float64

	// Algorithm selects the scorer. Empty means AlgorithmDice.
	Algorithm Algorithm

	// CompareSet is the recent-content corpus to check against.
	CompareSet []string
}

// Result is the outcome of one duplicate check. Computed fresh per check and
// never persisted here.
type Result struct {
	IsSimilar         bool
	HighestSimilarity float64
	MatchedContent    string
	Threshold         float64
}

var (
	urlRE     = regexp.MustCompile(`https?://\S+`)
	mentionRE = regexp.MustCompile(`@[\p{L}\p{N}_]+`)
	hashtagRE = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	spaceRE   = regexp.MustCompile(`\s+`)

	foldCaser = cases.Fold()
)

// Preprocess canonicalizes content for comparison: strips URLs, @-mentions
// and #-hashtags, NFC-normalizes, case-folds, drops punctuation, and
// collapses whitespace.
func Preprocess(s string) string {
	s = norm.NFC.String(s)
	s = urlRE.ReplaceAllString(s, " ")
	s = mentionRE.ReplaceAllString(s, " ")
	s = hashtagRE.ReplaceAllString(s, " ")
	s = foldCaser.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(spaceRE.ReplaceAllString(b.String(), " "))
}

// Check scores content against every corpus entry and records the maximum.
// IsSimilar is true when the highest score meets the threshold.
func Check(content string, opts Options) Result {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	algo := opts.Algorithm
	if algo == "" {
		algo = AlgorithmDice
	}

	res := Result{Threshold: threshold}
	if len(opts.CompareSet) == 0 {
		return res
	}

	candidate := Preprocess(content)
	corpus := make([]string, len(opts.CompareSet))
	for i, c := range opts.CompareSet {
		corpus[i] = Preprocess(c)
	}

	scores := scoreAgainst(candidate, corpus, algo)
	for i, s := range scores {
		if s > res.HighestSimilarity {
			res.HighestSimilarity = s
			res.MatchedContent = opts.CompareSet[i]
		}
	}
	res.IsSimilar = res.HighestSimilarity >= threshold
	return res
}

// Score computes the similarity of two raw strings under one algorithm.
// Both sides are preprocessed first.
func Score(a, b string, algo Algorithm) float64 {
	if algo == "" {
		algo = AlgorithmDice
	}
	pa, pb := Preprocess(a), Preprocess(b)
	scores := scoreAgainst(pa, []string{pb}, algo)
	return scores[0]
}

// scoreAgainst scores an already-preprocessed candidate against an
// already-preprocessed corpus.
func scoreAgainst(candidate string, corpus []string, algo Algorithm) []float64 {
	scores := make([]float64, len(corpus))
	switch algo {
	case AlgorithmTFIDF:
		// IDF is taken over the candidate plus the whole corpus, so all
		// entries must be vectorized together.
		copy(scores, tfidfCosine(candidate, corpus))
	case AlgorithmJaccard:
		for i, doc := range corpus {
			scores[i] = jaccard(candidate, doc)
		}
	default:
		for i, doc := range corpus {
			scores[i] = dice(candidate, doc)
		}
	}
	return scores
}

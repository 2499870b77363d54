package similarity

import (
	"math"
	"strings"
)

// dice computes the Sørensen–Dice coefficient over character bigrams.
// Bigrams are taken per word so whitespace never forms part of a bigram.
// Single-rune words contribute themselves as a unigram so short content
// still compares meaningfully.
func dice(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	counts := make(map[string]int, len(ba))
	total := 0
	for g, n := range ba {
		counts[g] = n
		total += n
	}
	otherTotal := 0
	overlap := 0
	for g, n := range bb {
		otherTotal += n
		if m, ok := counts[g]; ok {
			overlap += min(m, n)
		}
	}
	return 2 * float64(overlap) / float64(total+otherTotal)
}

// bigrams returns the multiset of character bigrams per word.
func bigrams(s string) map[string]int {
	grams := make(map[string]int)
	for _, word := range strings.Fields(s) {
		runes := []rune(word)
		if len(runes) == 1 {
			grams[string(runes)]++
			continue
		}
		for i := 0; i+1 < len(runes); i++ {
			grams[string(runes[i:i+2])]++
		}
	}
	return grams
}

// jaccard computes token-set intersection over union.
func jaccard(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

// tfidfCosine scores the candidate against each corpus document using
// TF-IDF weighted cosine similarity. Document frequency is computed over
// the candidate plus the corpus; IDF uses the smoothed form
// ln((1+N)/(1+df)) + 1 so terms present in every document still carry
// weight and identical documents score 1.0.
func tfidfCosine(candidate string, corpus []string) []float64 {
	docs := make([][]string, 0, len(corpus)+1)
	docs = append(docs, strings.Fields(candidate))
	for _, d := range corpus {
		docs = append(docs, strings.Fields(d))
	}

	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, tok := range doc {
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for tok, d := range df {
		idf[tok] = math.Log((1+n)/(1+float64(d))) + 1
	}

	vectors := make([]map[string]float64, len(docs))
	for i, doc := range docs {
		vec := make(map[string]float64)
		for _, tok := range doc {
			vec[tok]++
		}
		for tok := range vec {
			vec[tok] *= idf[tok]
		}
		vectors[i] = vec
	}

	scores := make([]float64, len(corpus))
	for i := range corpus {
		scores[i] = cosine(vectors[0], vectors[i+1])
	}
	return scores
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for tok, wa := range a {
		na += wa * wa
		if wb, ok := b[tok]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range b {
		nb += wb * wb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

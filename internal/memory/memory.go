// Package memory provides the lexical retrieval helpers used to inform
// planning: a frequency summary over episodic events and a Jaccard
// ranker over semantic snippets.
//
// Both functions are pure; the underlying logs live in the run store.
package memory

import (
	"sort"
	"strings"
)

const punctuation = ".,:;!?()[]{}\"'"

// tokenize lower-cases, strips surrounding punctuation, and splits on
// whitespace, returning the distinct tokens of text.
func tokenize(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, raw := range strings.Fields(text) {
		tok := strings.ToLower(strings.Trim(raw, punctuation))
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// EpisodicSummary returns the limit most frequent tokens across events,
// comma-joined. A token counts once per event it appears in. Ties keep
// first-seen order, so the summary is deterministic.
func EpisodicSummary(events []string, limit int) string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	order := 0
	for _, e := range events {
		for tok := range tokenize(e) {
			if _, ok := counts[tok]; !ok {
				firstSeen[tok] = order
				order++
			}
			counts[tok]++
		}
	}

	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return firstSeen[tokens[i]] < firstSeen[tokens[j]]
	})

	if limit < len(tokens) {
		tokens = tokens[:limit]
	}
	return strings.Join(tokens, ", ")
}

// SemanticRank scores each doc against query by Jaccard similarity of
// their token sets and returns the top k docs with a non-zero score,
// highest first. The sort is stable: ties preserve input order.
func SemanticRank(query string, docs []string, k int) []string {
	q := tokenize(query)

	type scored struct {
		score float64
		doc   string
	}
	all := make([]scored, 0, len(docs))
	for _, doc := range docs {
		d := tokenize(doc)
		inter := 0
		for tok := range q {
			if _, ok := d[tok]; ok {
				inter++
			}
		}
		union := len(q) + len(d) - inter
		if union < 1 {
			union = 1
		}
		all = append(all, scored{score: float64(inter) / float64(union), doc: doc})
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	out := make([]string, 0, k)
	for _, s := range all {
		if len(out) >= k {
			break
		}
		if s.score > 0 {
			out = append(out, s.doc)
		}
	}
	return out
}

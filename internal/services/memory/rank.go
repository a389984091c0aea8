package memory

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"nathy/internal/services/embeddings"
)

const (
	// candidateWindow is how many of the newest facts are considered for ranking.
	candidateWindow = 200
	minTokenRunes   = 3
	maxRecentFacts  = 3
)

const extraWordRunes = "_áàâãéèêíìîóòôõúùûç"

// Tokenize lowercases text and splits it into runs of letters, digits,
// underscore and Portuguese accented letters.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(extraWordRunes, r))
	})
}

func queryTokens(query string) []string {
	var out []string
	for _, t := range Tokenize(strings.TrimSpace(query)) {
		if len([]rune(t)) >= minTokenRunes {
			out = append(out, t)
		}
	}
	return out
}

type scoredFact struct {
	text  string
	score int
	sim   float64
}

// RankFacts orders facts (newest first) by relevance to query and returns at
// most limit distinct entries. A fact scores one point per query token it
// contains. When nothing matches, up to min(limit, 3) of the newest distinct
// facts are returned instead.
func RankFacts(facts []string, query string, limit int) []string {
	return Ranker{}.Rank(context.Background(), facts, query, limit)
}

// Ranker is RankFacts with optional semantic tie-breaking.
type Ranker struct {
	// Embedder breaks keyword-score ties by cosine similarity to the query
	// and orders the recency fallback by similarity. Nil disables both.
	Embedder embeddings.Service
}

// Rank implements RankFacts. Embedding failures degrade to keyword ranking.
func (r Ranker) Rank(ctx context.Context, facts []string, query string, limit int) []string {
	if limit <= 0 || len(facts) == 0 {
		return nil
	}
	if len(facts) > candidateWindow {
		facts = facts[:candidateWindow]
	}

	tokens := queryTokens(query)
	var matched []scoredFact
	for _, f := range facts {
		lower := strings.ToLower(f)
		score := 0
		for _, t := range tokens {
			if strings.Contains(lower, t) {
				score++
			}
		}
		if score > 0 {
			matched = append(matched, scoredFact{text: f, score: score})
		}
	}

	if len(matched) > 0 {
		r.annotate(ctx, matched, query)
		sort.SliceStable(matched, func(i, j int) bool {
			if matched[i].score != matched[j].score {
				return matched[i].score > matched[j].score
			}
			return matched[i].sim > matched[j].sim
		})
		return distinct(matched, limit)
	}

	recent := make([]scoredFact, 0, len(facts))
	for _, f := range facts {
		recent = append(recent, scoredFact{text: f})
	}
	if r.annotate(ctx, recent, query) {
		sort.SliceStable(recent, func(i, j int) bool { return recent[i].sim > recent[j].sim })
	}
	return distinct(recent, min(limit, maxRecentFacts))
}

// annotate fills sim for every fact. It reports whether similarities are usable.
func (r Ranker) annotate(ctx context.Context, facts []scoredFact, query string) bool {
	if r.Embedder == nil || strings.TrimSpace(query) == "" {
		return false
	}
	inputs := make([]string, 0, len(facts)+1)
	inputs = append(inputs, query)
	for _, f := range facts {
		inputs = append(inputs, f.text)
	}
	vecs, _, err := r.Embedder.Embed(ctx, inputs)
	if err != nil || len(vecs) != len(inputs) {
		return false
	}
	for i := range facts {
		facts[i].sim = embeddings.Cosine(vecs[0], vecs[i+1])
	}
	return true
}

func distinct(facts []scoredFact, limit int) []string {
	seen := make(map[string]struct{}, len(facts))
	out := make([]string, 0, limit)
	for _, f := range facts {
		if _, dup := seen[f.text]; dup {
			continue
		}
		seen[f.text] = struct{}{}
		out = append(out, f.text)
		if len(out) >= limit {
			break
		}
	}
	return out
}

package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Feature weights for the hashed embedder.
const (
	wordWeight    = 1.0
	trigramWeight = 0.35
	pairWeight    = 0.5
)

// hashedEmbedder is the offline backend. Words, their character trigrams
// and adjacent word pairs are hashed into Dim signed buckets, then the
// vector is L2-normalized.
type hashedEmbedder struct {
	dim int
}

// NewHashed returns the offline embedder.
func NewHashed() Service {
	return &hashedEmbedder{dim: Dim}
}

func (h *hashedEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, string, error) {
	out := make([][]float32, len(inputs))
	for i, s := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, ModelHashed, err
		}
		out[i] = h.embedOne(s)
	}
	return out, ModelHashed, nil
}

func (h *hashedEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dim)
	words := basicTokens(foldAccents(text))
	for i, w := range words {
		h.add(vec, "w:"+w, wordWeight)
		padded := []rune("<" + w + ">")
		for j := 0; j+3 <= len(padded); j++ {
			h.add(vec, "t:"+string(padded[j:j+3]), trigramWeight)
		}
		if i > 0 {
			h.add(vec, "p:"+words[i-1]+" "+w, pairWeight)
		}
	}
	normalize(vec)
	return vec
}

// add scatters one feature into two buckets, each with a hash-derived sign.
func (h *hashedEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	for _, part := range [2]uint32{uint32(sum), uint32(sum >> 32)} {
		idx := int(part>>1) % h.dim
		if part&1 == 1 {
			vec[idx] -= weight
		} else {
			vec[idx] += weight
		}
	}
}

// foldAccents drops combining marks so "você" and "voce" share features.
func foldAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

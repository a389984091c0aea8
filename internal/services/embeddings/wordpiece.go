package embeddings

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// wordPiece is a minimal uncased BERT WordPiece tokenizer.
type wordPiece struct {
	vocab map[string]int
	unkID int
	clsID int
	sepID int
}

func loadWordPiece(r io.Reader) (*wordPiece, error) {
	vocab := make(map[string]int)
	sc := bufio.NewScanner(r)
	for line := 0; sc.Scan(); line++ {
		tok := strings.TrimSpace(sc.Text())
		if tok == "" {
			continue
		}
		if _, ok := vocab[tok]; !ok {
			vocab[tok] = line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("read vocab: empty vocabulary")
	}
	id := func(tok string, def int) int {
		if v, ok := vocab[tok]; ok {
			return v
		}
		return def
	}
	return &wordPiece{
		vocab: vocab,
		unkID: id("[UNK]", 100),
		clsID: id("[CLS]", 101),
		sepID: id("[SEP]", 102),
	}, nil
}

// encode returns padded input ids and the attention mask for text.
func (w *wordPiece) encode(text string, maxLen int) ([]int64, []int64) {
	seq := []int{w.clsID}
	for _, word := range basicTokens(text) {
		seq = append(seq, w.tokenizeWord(word)...)
	}
	if len(seq) > maxLen-1 {
		seq = seq[:maxLen-1]
	}
	seq = append(seq, w.sepID)

	ids := make([]int64, maxLen)
	mask := make([]int64, maxLen)
	for i, v := range seq {
		ids[i] = int64(v)
		mask[i] = 1
	}
	return ids, mask
}

// tokenizeWord splits one word greedily into the longest vocabulary pieces.
// Continuation pieces carry the ## prefix.
func (w *wordPiece) tokenizeWord(word string) []int {
	var out []int
	rest := word
	for rest != "" {
		end := len(rest)
		matched := ""
		id := 0
		for end > 0 {
			candidate := rest[:end]
			if len(out) > 0 {
				candidate = "##" + candidate
			}
			if v, ok := w.vocab[candidate]; ok {
				matched, id = rest[:end], v
				break
			}
			end--
		}
		if matched == "" {
			return append(out[:0], w.unkID)
		}
		out = append(out, id)
		rest = rest[len(matched):]
	}
	return out
}

func basicTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

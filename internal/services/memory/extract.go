package memory

import "strings"

var statementPrefixes = []string{
	"meu nome é ",
	"eu me chamo ",
	"eu gosto de ",
	"eu não gosto de ",
	"minha comida favorita é ",
	"minha cor favorita é ",
	"eu moro em ",
	"eu tenho ",
	"eu não tenho ",
	"eu sou ",
	"eu não sou ",
	"eu trabalho como ",
	"eu estudo ",
	"eu nasci em ",
	"meu aniversário é ",
	"eu tenho medo de ",
	"eu adoro ",
	"eu odeio ",
	"eu prefiro ",
}

var questionPrefixes = []string{
	"quem é ",
	"o que é ",
	"qual é ",
	"quando é ",
	"onde fica ",
	"por que ",
	"como é ",
}

// maxShortStatementWords bounds the "short sentence" heuristic.
const maxShortStatementWords = 15

// ExtractFact decides whether text is worth remembering about the user.
// Personal statements are always kept; questions never are; any other short
// sentence with terminal punctuation is kept.
func ExtractFact(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", false
	}
	lower := strings.ToLower(t)
	if hasAnyPrefix(lower, statementPrefixes) {
		return t, true
	}
	if hasAnyPrefix(lower, questionPrefixes) {
		return "", false
	}
	if len(strings.Fields(t)) <= maxShortStatementWords && strings.ContainsAny(t[len(t)-1:], ".!?") {
		return t, true
	}
	return "", false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

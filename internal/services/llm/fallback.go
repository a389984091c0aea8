package llm

import (
	"math/rand/v2"
	"strings"
)

var (
	greetingWords   = []string{"oi", "ola", "olá", "eai", "e aí"}
	questionWords   = []string{"qual", "como", "onde", "quando", "por que"}
	complimentWords = []string{"linda", "bonita", "legal", "gostosa", "maravilhosa"}

	greetingReplies = []string{
		"Oieee! Tudo bem? 😊",
		"Olá! Que bom conversar com você! 🌸",
		"E aí! Sumida! 😄",
		"Oiiee! Como vai? ✨",
	}
	questionReplies = []string{
		"Hmm, boa pergunta! Mas sem o meu cérebro de IA eu não consigo pensar muito fundo... 🤔",
		"Nossa, você me pegou! Preciso do meu cérebro AI para responder direito! 🧠",
		"Essa é difícil! Meu superpoder AI está em manutenção! 😅",
		"Bom... sem meus superpoderes de IA, fico um pouco limitada! 🤖",
	}
	complimentReplies = []string{
		"Awwwn, você é muito gentil! 😊💕",
		"Nossa, obrigada! Fiquei toda corada! 🌸",
		"Para de! Você me deixa sem jeito! 😄",
		"Mashiaaa! Você é o melhor! ✨",
	}
	defaultReplies = []string{
		"Legal! Mas sem o meu cérebro de IA eu não consigo responder muito bem... 😅",
		"Hmm, interessante! Preciso do meu cérebro AI para conversar direitinho! 🤖",
		"Nossa, você sabe que sem meu superpoder de IA fico meio limitada? 🤔",
		"Legal demais! Mas para responder melhor, preciso da minha IA funcionando! 🌸",
	}
)

// FallbackCategory names the bucket a canned reply was drawn from.
type FallbackCategory string

const (
	FallbackGreeting   FallbackCategory = "greeting"
	FallbackQuestion   FallbackCategory = "question"
	FallbackCompliment FallbackCategory = "compliment"
	FallbackDefault    FallbackCategory = "default"
)

// Classify picks the canned-reply bucket for userText. Greetings win over
// questions, which win over compliments.
func Classify(userText string) FallbackCategory {
	lower := strings.ToLower(userText)
	switch {
	case containsAny(lower, greetingWords):
		return FallbackGreeting
	case strings.Contains(userText, "?") || containsAny(lower, questionWords):
		return FallbackQuestion
	case containsAny(lower, complimentWords):
		return FallbackCompliment
	default:
		return FallbackDefault
	}
}

// Fallback returns an in-character reply used when no provider answered.
func Fallback(userText string) string {
	pool := FallbackReplies(Classify(userText))
	return pool[rand.IntN(len(pool))]
}

// FallbackReplies exposes the pool for a category.
func FallbackReplies(c FallbackCategory) []string {
	switch c {
	case FallbackGreeting:
		return greetingReplies
	case FallbackQuestion:
		return questionReplies
	case FallbackCompliment:
		return complimentReplies
	default:
		return defaultReplies
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

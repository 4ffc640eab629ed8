package interest

import (
	"regexp"
	"strings"
	"unicode"
)

type MessageType string

const (
	TypeCommand   MessageType = "command"
	TypeQuestion  MessageType = "question"
	TypeEmotional MessageType = "emotional"
	TypeResponse  MessageType = "response"
	TypeGreeting  MessageType = "greeting"
	TypeStatement MessageType = "statement"
	TypeNoise     MessageType = "noise"
)

var typeScores = map[MessageType]float64{
	TypeCommand:   0.9,
	TypeQuestion:  0.8,
	TypeEmotional: 0.6,
	TypeResponse:  0.5,
	TypeGreeting:  0.4,
	TypeStatement: 0.3,
	TypeNoise:     0.0,
}

func TypeScore(kind MessageType) float64 {
	return typeScores[kind]
}

var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^ok+$`),
	regexp.MustCompile(`^k+$`),
	regexp.MustCompile(`^lol+$`),
	regexp.MustCompile(`^lmao+$`),
	regexp.MustCompile(`^(ha)+h?$`),
	regexp.MustCompile(`^\+1$`),
	regexp.MustCompile(`^[.!?]+$`),
}

// Classify assigns a coarse message type used by the keyword sub-score.
func Classify(text string) MessageType {
	normalized := Normalize(text)
	if normalized == "" {
		return TypeNoise
	}
	for _, pattern := range noisePatterns {
		if pattern.MatchString(normalized) {
			return TypeNoise
		}
	}
	switch {
	case looksLikeCommand(normalized):
		return TypeCommand
	case looksLikeQuestion(normalized):
		return TypeQuestion
	case looksEmotional(normalized):
		return TypeEmotional
	case looksLikeGreeting(normalized):
		return TypeGreeting
	case looksLikeResponse(normalized):
		return TypeResponse
	default:
		return TypeStatement
	}
}

func looksLikeCommand(text string) bool {
	if strings.HasPrefix(text, "/") || strings.HasPrefix(text, "!") {
		return true
	}
	return hasAnyPrefix(text, "please ", "can you ", "could you ", "help me ", "show me ", "tell me ")
}

func looksLikeQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	return hasAnyPrefix(text, "how ", "what ", "when ", "where ", "why ", "who ", "which ", "is ", "are ", "does ", "do ", "can ", "should ")
}

func looksEmotional(text string) bool {
	if strings.Contains(text, "!!") {
		return true
	}
	return containsAny(text, []string{
		"love", "hate", "awesome", "amazing", "terrible", "sad", "angry", "excited", "wow",
		"omg", "ugh", "haha", ":)", ":(", "😂", "😭", "❤",
	})
}

var greetingWords = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "heya": {}, "gm": {}, "gn": {}, "yo": {}, "morning": {}, "evening": {},
}

var responseWords = map[string]struct{}{
	"yes": {}, "no": {}, "yeah": {}, "yep": {}, "nope": {}, "sure": {}, "agreed": {}, "right": {},
	"exactly": {}, "true": {}, "same": {}, "indeed": {},
}

func looksLikeGreeting(text string) bool {
	if hasAnyPrefix(text, "good morning", "good evening", "good night") {
		return true
	}
	_, ok := greetingWords[firstWord(text)]
	return ok
}

func looksLikeResponse(text string) bool {
	_, ok := responseWords[firstWord(text)]
	return ok
}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "to": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "for": {}, "with": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"it": {}, "this": {}, "that": {}, "i": {}, "you": {}, "we": {}, "they": {}, "he": {}, "she": {},
	"me": {}, "my": {}, "your": {}, "so": {}, "just": {}, "do": {}, "does": {}, "did": {}, "not": {},
	"if": {}, "as": {}, "by": {}, "from": {}, "what": {}, "how": {}, "can": {}, "will": {},
}

// Tokens returns lowercased content words of text, without stop words or
// duplicates, in order of first appearance.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) < 2 {
			continue
		}
		if _, stop := stopWords[field]; stop {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}
	return tokens
}

func Normalize(input string) string {
	value := strings.TrimSpace(strings.ToLower(input))
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.Join(strings.Fields(value), " ")
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(text string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

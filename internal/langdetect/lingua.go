package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample lingua is asked to classify.
const minLetters = 6

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the two-letter language code of text, or "" when undecidable.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if !hasEnoughLetters(sample) {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// DetectDocument samples the title and the start of the body.
func DetectDocument(title, body string) string {
	sample := strings.TrimSpace(title)
	runes := []rune(strings.TrimSpace(body))
	if len(runes) > 1000 {
		runes = runes[:1000]
	}
	if len(runes) > 0 {
		sample = strings.TrimSpace(sample + "\n" + string(runes))
	}
	return DetectISO6391(sample)
}

func hasEnoughLetters(sample string) bool {
	count := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			count++
			if count >= minLetters {
				return true
			}
		}
	}
	return false
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}

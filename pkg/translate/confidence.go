package translate

import (
	"strings"
	"sync"

	lingua "github.com/pemistahl/lingua-go"
)

// engineAliases maps legacy codes the engine still emits onto ISO 639-1.
var engineAliases = map[string]string{
	"iw": "he",
	"jw": "jv",
}

// ConfidenceScorer computes how confident a local statistical model is that
// a text is written in a given language. It also names the language when the
// engine does not report one.
//
// The lingua detector is expensive to build, so it is created once on first
// use and shared by every request.
type ConfidenceScorer struct {
	once     sync.Once
	detector lingua.LanguageDetector
	byCode   map[string]lingua.Language
}

// NewConfidenceScorer creates a scorer. Language models load lazily.
func NewConfidenceScorer() *ConfidenceScorer {
	byCode := make(map[string]lingua.Language)
	for _, language := range lingua.AllLanguages() {
		code := strings.ToLower(language.IsoCode639_1().String())
		if len(code) == 2 {
			byCode[code] = language
		}
	}
	return &ConfidenceScorer{byCode: byCode}
}

// Score returns a value in [0, 1] for text being written in lang.
// Unknown languages and blank text score 0.
func (s *ConfidenceScorer) Score(text, lang string) float64 {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return 0
	}

	language, ok := s.lookup(lang)
	if !ok {
		return 0
	}

	value := s.getDetector().ComputeLanguageConfidence(sample, language)
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

// DetectLanguage names the language of text as a lowercase ISO 639-1 code.
// It reports false for blank text or when no language stands out.
func (s *ConfidenceScorer) DetectLanguage(text string) (string, bool) {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return "", false
	}
	language, ok := s.getDetector().DetectLanguageOf(sample)
	if !ok {
		return "", false
	}
	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return "", false
	}
	return code, true
}

// Supports reports whether lang can be scored.
func (s *ConfidenceScorer) Supports(lang string) bool {
	_, ok := s.lookup(lang)
	return ok
}

func (s *ConfidenceScorer) lookup(lang string) (lingua.Language, bool) {
	code := BaseCode(lang)
	if alias, ok := engineAliases[code]; ok {
		code = alias
	}
	language, ok := s.byCode[code]
	return language, ok
}

func (s *ConfidenceScorer) getDetector() lingua.LanguageDetector {
	s.once.Do(func() {
		s.detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})
	return s.detector
}

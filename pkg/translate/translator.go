package translate

import (
	"context"
	"strings"
)

// AutoLanguage asks the upstream engine to detect the source language.
const AutoLanguage = "auto"

// Translation is the upstream result of one translate call.
type Translation struct {
	// Text is the translated text.
	Text string
	// Source is the source language as reported (or detected) by the engine.
	Source string
}

// Detection is the upstream result of one detect call.
type Detection struct {
	// Language is the detected language code (e.g. "fr", "zh-cn").
	Language string
	// Confidence is in [0, 1].
	Confidence float64
}

// Translator is the opaque translation capability the service delegates to.
// Implementations report failures as errors whose text is inspected by the
// retry policy, so transport errors should keep their original wording.
type Translator interface {
	// Translate translates text from sourceLang ("auto" to detect) to targetLang.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (*Translation, error)

	// Detect identifies the language of text.
	Detect(ctx context.Context, text string) (*Detection, error)
}

// LanguageMapper normalizes client language codes into the format the
// upstream engine understands.
//
// Clients send codes like "EN", "fr_CA" or "zh-TW" (BCP 47-ish) while the
// engine expects lowercase ISO 639-1 codes, except for Chinese which keeps
// its script variant.
type LanguageMapper struct{}

// NewLanguageMapper creates a new language mapper instance.
func NewLanguageMapper() *LanguageMapper {
	return &LanguageMapper{}
}

// chineseVariants maps region/script suffixes onto the engine's two Chinese codes.
var chineseVariants = map[string]string{
	"cn":   "zh-cn",
	"sg":   "zh-cn",
	"hans": "zh-cn",
	"tw":   "zh-tw",
	"hk":   "zh-tw",
	"mo":   "zh-tw",
	"hant": "zh-tw",
}

// ToBackendCode converts a client language code to engine format.
// Examples:
//   - "EN" -> "en"
//   - "fr_CA" -> "fr"
//   - "zh" -> "zh-cn"
//   - "zh-Hant-TW" -> "zh-tw"
//   - "auto" -> "auto"
func (lm *LanguageMapper) ToBackendCode(lang string) string {
	code := strings.ToLower(strings.TrimSpace(lang))
	code = strings.ReplaceAll(code, "_", "-")
	if code == "" || code == AutoLanguage {
		return code
	}

	base, rest, hasRest := strings.Cut(code, "-")
	if base != "zh" {
		return base
	}
	if !hasRest {
		return "zh-cn"
	}
	for _, part := range strings.Split(rest, "-") {
		if variant, ok := chineseVariants[part]; ok {
			return variant
		}
	}
	return "zh-cn"
}

// BaseCode strips any region or script suffix: "zh-tw" -> "zh".
func BaseCode(lang string) string {
	code := strings.ToLower(strings.TrimSpace(lang))
	code = strings.ReplaceAll(code, "_", "-")
	base, _, _ := strings.Cut(code, "-")
	return base
}

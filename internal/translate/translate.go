// Package translate defines the pluggable translation capability used by the
// message service: a Provider contract, language-tag handling, best-effort
// language detection and the mock and network-backed providers.
//
// Provider contract:
//   - text must be non-empty and targetLang a recognized tag.
//   - An empty sourceLang triggers detection; detection failure yields
//     Unknown rather than an error.
//   - When the resolved source equals the target, the text is returned
//     unchanged without any outbound call.
//
// The active provider is built once at startup by New and injected into the
// services that need it.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/tbourn/workfair-chat-backend/internal/config"
)

// Unknown is the sentinel source tag used when detection cannot classify text.
const Unknown = "unknown"

// ErrInvalidLanguage is returned for malformed or unrecognized language tags.
var ErrInvalidLanguage = errors.New("invalid language tag")

// Result is the outcome of one translation.
type Result struct {
	Text       string
	SourceLang string
	// Noop is true when source and target matched and no work was done.
	Noop bool
}

// Provider turns text into the target language.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, sourceLang, targetLang string) (Result, error)
}

// ProviderError reports a failed upstream call: a non-success status, a
// timeout or an unreachable endpoint. StatusCode is 0 for transport failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NormalizeTag validates tag and reduces it to its base language
// ("ko-KR" -> "ko", "EN" -> "en").
func NormalizeTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, Unknown) {
		return "", ErrInvalidLanguage
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, tag)
	}
	// Undetermined tags get a guessed base ("und" -> "en"); only exact bases count.
	base, conf := t.Base()
	if conf != language.Exact || base.String() == "und" {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, tag)
	}
	return base.String(), nil
}

// NormalizeSource is NormalizeTag for optional source tags: empty, "auto"
// and Unknown mean "detect" and return "".
func NormalizeSource(tag string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "auto", Unknown:
		return "", nil
	}
	return NormalizeTag(tag)
}

// DisplayName returns the English name of a base tag for prompts, falling
// back to the tag itself.
func DisplayName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, _ := t.Base()
	if name := englishNames[base.String()]; name != "" {
		return name
	}
	return tag
}

// resolveSource returns the provided source tag or detects one.
func resolveSource(d Detector, text, sourceLang string) string {
	if sourceLang != "" {
		return sourceLang
	}
	if d == nil {
		return Unknown
	}
	if lang, ok := d.Detect(text); ok {
		return lang
	}
	return Unknown
}

// New builds the provider selected by cfg. Callers should pass a config
// already normalized by config.Load, which downgrades a network provider
// without credentials to mock.
func New(cfg config.TranslateConfig, d Detector) Provider {
	if cfg.Provider == config.ProviderNetwork && strings.TrimSpace(cfg.APIKey) != "" {
		return NewNetwork(cfg, d)
	}
	return NewMock(d)
}

var englishNames = map[string]string{
	"ar": "Arabic", "bn": "Bengali", "de": "German", "en": "English",
	"es": "Spanish", "fa": "Persian", "fr": "French", "hi": "Hindi",
	"id": "Indonesian", "it": "Italian", "ja": "Japanese", "km": "Khmer",
	"ko": "Korean", "mn": "Mongolian", "my": "Burmese", "ne": "Nepali",
	"pt": "Portuguese", "ru": "Russian", "si": "Sinhala", "th": "Thai",
	"tl": "Tagalog", "tr": "Turkish", "uk": "Ukrainian", "ur": "Urdu",
	"uz": "Uzbek", "vi": "Vietnamese", "zh": "Chinese",
}

package translate

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Detector classifies the language of a text. ok is false when the text
// cannot be classified with enough confidence.
type Detector interface {
	Detect(text string) (lang string, ok bool)
}

// WhatlangDetector detects languages offline with whatlanggo.
type WhatlangDetector struct {
	// MinConfidence in [0,1]; results below it are treated as unknown.
	MinConfidence float64
}

// Detect implements Detector.
func (d WhatlangDetector) Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	info := whatlanggo.Detect(text)
	if info.Script == nil || info.Confidence < d.MinConfidence {
		return "", false
	}
	code := info.Lang.Iso6391()
	if code == "" {
		code = info.Lang.Iso6393()
	}
	if code == "" {
		return "", false
	}
	return code, true
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(text string) (string, bool)

// Detect implements Detector.
func (f DetectorFunc) Detect(text string) (string, bool) { return f(text) }

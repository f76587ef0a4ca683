package translate

import (
	"context"
	"fmt"
)

// MockName identifies cache entries produced by the mock provider.
const MockName = "mock"

// Mock is a deterministic offline provider. It wraps the input with a
// visible marker naming the resolved source and target tags.
type Mock struct {
	Detector Detector
}

// NewMock returns a mock provider using d for source detection.
func NewMock(d Detector) *Mock { return &Mock{Detector: d} }

// Name implements Provider.
func (m *Mock) Name() string { return MockName }

// Translate implements Provider.
func (m *Mock) Translate(ctx context.Context, text, sourceLang, targetLang string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	src := resolveSource(m.Detector, text, sourceLang)
	if src == targetLang {
		return Result{Text: text, SourceLang: src, Noop: true}, nil
	}
	return Result{
		Text:       fmt.Sprintf("[번역됨: %s→%s] %s", src, targetLang, text),
		SourceLang: src,
	}, nil
}

// Package services – TranslationService
//
// TranslationService implements translate-on-demand with a per-(message,
// target language) cache. A cache hit never reaches the provider; a provider
// failure leaves the cache untouched so a later retry can succeed.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
	"github.com/tbourn/workfair-chat-backend/internal/repo"
	"github.com/tbourn/workfair-chat-backend/internal/translate"
)

// TranslateInput carries one translation request.
type TranslateInput struct {
	MessageID  string
	UserID     string
	TargetLang string
	// SourceLang is optional; empty means use the stored detection or detect.
	SourceLang string
	// Text overrides the stored message body when non-nil.
	Text *string
}

// Translation is the service result.
type Translation struct {
	domain.TranslationCacheEntry
	Cached bool `json:"cached"`
}

// TranslationService looks up or produces message translations.
type TranslationService struct {
	DB       *gorm.DB
	Provider translate.Provider

	MaxTextRunes int
}

// TranslateMessage returns the cached translation for (message, target) or
// asks the provider for one and stores it. An override Text that differs
// from the stored body is translated but neither read from nor written to
// the cache.
func (s *TranslationService) TranslateMessage(ctx context.Context, in TranslateInput) (*Translation, error) {
	ctx, span := otel.Tracer("services/TranslationService").Start(ctx, "TranslateMessage",
		trace.WithAttributes(
			attribute.String("message.id", in.MessageID),
			attribute.String("user.id", in.UserID),
			attribute.String("translate.target", in.TargetLang),
		),
	)
	defer span.End()

	target, err := translate.NormalizeTag(in.TargetLang)
	if err != nil {
		return nil, ErrInvalidLanguage
	}
	source, err := translate.NormalizeSource(in.SourceLang)
	if err != nil {
		return nil, ErrInvalidLanguage
	}
	if in.Text != nil {
		if strings.TrimSpace(*in.Text) == "" {
			return nil, ErrEmptyText
		}
		if s.MaxTextRunes > 0 && utf8.RuneCountInString(*in.Text) > s.MaxTextRunes {
			return nil, ErrTextTooLong
		}
	}

	msg, err := repo.GetMessage(ctx, s.DB, in.MessageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := authorizeMember(ctx, s.DB, msg.ConversationID, in.UserID); err != nil {
		return nil, err
	}

	providerName := s.Provider.Name()
	override := in.Text != nil && *in.Text != msg.Text
	span.SetAttributes(attribute.Bool("translate.override", override))
	if source == "" && msg.DetectedLang != nil {
		source = *msg.DetectedLang
	}

	if override {
		return s.translateOverride(ctx, span, msg, *in.Text, source, target)
	}

	if hit, err := repo.GetTranslation(ctx, s.DB, msg.ID, target); err == nil {
		translationRequests.WithLabelValues(providerName, outcomeCacheHit).Inc()
		span.SetAttributes(attribute.Bool("translate.cached", true))
		return &Translation{TranslationCacheEntry: *hit, Cached: true}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	res, srcLang, err := s.callProvider(ctx, span, msg.ID, msg.Text, source, target)
	if err != nil {
		return nil, err
	}
	entry, err := repo.CreateTranslation(ctx, s.DB, msg.ID, target, srcLang, res.Text, providerName)
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent request stored it first; serve the winner.
		entry, err = repo.GetTranslation(ctx, s.DB, msg.ID, target)
		if err != nil {
			return nil, err
		}
		return &Translation{TranslationCacheEntry: *entry, Cached: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Translation{TranslationCacheEntry: *entry}, nil
}

// translateOverride serves caller-supplied text without touching the cache.
func (s *TranslationService) translateOverride(ctx context.Context, span trace.Span, msg *domain.Message, text, source, target string) (*Translation, error) {
	res, srcLang, err := s.callProvider(ctx, span, msg.ID, text, source, target)
	if err != nil {
		return nil, err
	}
	return &Translation{TranslationCacheEntry: domain.TranslationCacheEntry{
		MessageID:      msg.ID,
		TargetLang:     target,
		SourceLang:     srcLang,
		TranslatedText: res.Text,
		Provider:       s.Provider.Name(),
		CreatedAt:      time.Now().UTC(),
	}}, nil
}

// callProvider runs one provider translation and records its outcome.
// The returned source language is never empty.
func (s *TranslationService) callProvider(ctx context.Context, span trace.Span, messageID, text, source, target string) (translate.Result, string, error) {
	providerName := s.Provider.Name()
	res, err := s.Provider.Translate(ctx, text, source, target)
	if err != nil {
		translationRequests.WithLabelValues(providerName, outcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failed")
		log.Ctx(ctx).Warn().Err(err).
			Str("message_id", messageID).
			Str("provider", providerName).
			Str("target", target).
			Msg("translation provider failed")
		return translate.Result{}, "", fmt.Errorf("%w: %w", ErrTranslationFailed, err)
	}

	outcome := outcomeTranslated
	if res.Noop {
		outcome = outcomeNoop
	}
	translationRequests.WithLabelValues(providerName, outcome).Inc()

	srcLang := res.SourceLang
	if srcLang == "" {
		srcLang = translate.Unknown
	}
	return res, srcLang, nil
}

// CacheSize reports how many translations are stored for a message.
func (s *TranslationService) CacheSize(ctx context.Context, messageID string) (int64, error) {
	return repo.CountTranslations(ctx, s.DB, messageID)
}

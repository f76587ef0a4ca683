package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/workfair-chat-backend/internal/config"
)

// NetworkName identifies cache entries produced by the network provider.
const NetworkName = "network"

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 512

// Network calls a hosted text-generation endpoint (generateContent API)
// with a fixed instruction template. It issues exactly one request per
// call and never retries.
type Network struct {
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
	Client   *http.Client
	Detector Detector
}

// NewNetwork builds a network provider whose HTTP transport is traced.
func NewNetwork(cfg config.TranslateConfig, d Detector) *Network {
	return &Network{
		BaseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.Timeout,
		Client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Detector: d,
	}
}

// Name implements Provider.
func (n *Network) Name() string { return NetworkName }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Translate implements Provider.
func (n *Network) Translate(ctx context.Context, text, sourceLang, targetLang string) (Result, error) {
	src := resolveSource(n.Detector, text, sourceLang)
	if src == targetLang {
		return Result{Text: text, SourceLang: src, Noop: true}, nil
	}

	ctx, span := otel.Tracer("translate/Network").Start(ctx, "Translate",
		trace.WithAttributes(
			attribute.String("translate.source", src),
			attribute.String("translate.target", targetLang),
			attribute.String("translate.model", n.Model),
		),
	)
	defer span.End()

	out, err := n.call(ctx, buildPrompt(text, src, targetLang))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return Result{}, err
	}
	return Result{Text: out, SourceLang: src}, nil
}

func (n *Network) call(ctx context.Context, prompt string) (string, error) {
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", n.fail(0, err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", n.BaseURL, url.PathEscape(n.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", n.fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", n.APIKey)

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", n.fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", n.fail(resp.StatusCode, errors.New(strings.TrimSpace(string(snippet))))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", n.fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", n.fail(resp.StatusCode, errors.New("empty candidates"))
	}
	out := strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)
	if out == "" {
		return "", n.fail(resp.StatusCode, errors.New("empty translation"))
	}
	return out, nil
}

func (n *Network) fail(status int, err error) error {
	return &ProviderError{Provider: NetworkName, StatusCode: status, Err: err}
}

// buildPrompt renders the instruction template. An unknown source language
// is left for the model to infer.
func buildPrompt(text, src, tgt string) string {
	var b strings.Builder
	if src == Unknown || src == "" {
		fmt.Fprintf(&b, "Translate the following text to %s.\n", DisplayName(tgt))
	} else {
		fmt.Fprintf(&b, "Translate the following text from %s to %s.\n", DisplayName(src), DisplayName(tgt))
	}
	b.WriteString("Only provide the translation, no explanations.\n\n")
	b.WriteString("Text: ")
	b.WriteString(text)
	b.WriteString("\n\nTranslation:")
	return b.String()
}

package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"call-assist-go/internal/config"
	"call-assist-go/internal/errs"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/types"
)

const GeminiName = "gemini"

// Gemini uses the Google Gen AI SDK against the Gemini API backend.
// A client is built per call because the credential may differ per request.
type Gemini struct {
	settings   config.ProviderSettings
	httpClient *http.Client
	log        *logger.Logger
}

func NewGeminiFromSettings(settings config.ProviderSettings, log *logger.Logger) (Provider, error) {
	return NewGemini(settings, log), nil
}

func NewGemini(settings config.ProviderSettings, log *logger.Logger) *Gemini {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gemini{
		settings:   settings,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Component("provider.gemini"),
	}
}

func (g *Gemini) Name() string { return GeminiName }

func (g *Gemini) newClient(ctx context.Context, key string) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.settings.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.settings.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &errs.ProviderError{Provider: GeminiName, Op: "client", Err: err}
	}
	return client, nil
}

func (g *Gemini) generate(ctx context.Context, op, key, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (string, error) {
	client, err := g.newClient(ctx, key)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	g.log.WithField("model", model).WithField("op", op).Debug("generate content request")
	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		g.log.WithError(err).WithField("op", op).Warn("gemini request failed")
		return "", &errs.ProviderError{Provider: GeminiName, Op: op, Err: err}
	}
	return resp.Text(), nil
}

func (g *Gemini) Transcribe(ctx context.Context, audio Audio, opts Options) (string, error) {
	key, err := g.settings.Credential(opts.APIKey)
	if err != nil {
		return "", err
	}
	if len(audio.Data) == 0 {
		return "", &errs.ProviderError{Provider: GeminiName, Op: "transcribe", Err: errors.New("empty audio")}
	}
	model := g.settings.Model(opts.Model, g.settings.TranscriptionModel)
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: audio.mimeType(), Data: audio.Data}},
		{Text: transcriptionPrompt},
	}
	g.log.WithField("model", model).WithField("audio_bytes", len(audio.Data)).Info("transcribing audio")
	text, err := g.generate(ctx, "transcribe", key, model, parts, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (g *Gemini) Summarize(ctx context.Context, transcript string, opts Options) (string, error) {
	if blank(transcript) {
		return "", nil
	}
	key, err := g.settings.Credential(opts.APIKey)
	if err != nil {
		return "", err
	}
	parts := []*genai.Part{
		{Text: summarySystemPrompt},
		{Text: transcriptMessage(transcript)},
	}
	text, err := g.generate(ctx, "summarize", key, g.settings.Model(opts.Model, g.settings.ChatModel), parts, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](summaryTemperature),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (g *Gemini) Extract(ctx context.Context, transcript string, opts Options) (types.ExtractedInfo, error) {
	if blank(transcript) {
		return types.ExtractedInfo{}, nil
	}
	key, err := g.settings.Credential(opts.APIKey)
	if err != nil {
		return types.ExtractedInfo{}, err
	}
	parts := []*genai.Part{
		{Text: extractionSystemPrompt},
		{Text: transcriptMessage(transcript)},
	}
	text, err := g.generate(ctx, "extract", key, g.settings.Model(opts.Model, g.settings.ChatModel), parts, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](extractionTemperature),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return bestEffort(g.log, types.ExtractedInfo{}, err)
	}
	info, err := parseExtraction(GeminiName, text)
	return bestEffort(g.log, info, err)
}

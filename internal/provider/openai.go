package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-assist-go/internal/config"
	"call-assist-go/internal/errs"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/types"
)

const OpenAIName = "openai"

// OpenAI talks to the OpenAI REST API (or any compatible gateway).
type OpenAI struct {
	settings   config.ProviderSettings
	httpClient *http.Client
	log        *logger.Logger
	newBackOff func() backoff.BackOff
}

func NewOpenAIFromSettings(settings config.ProviderSettings, log *logger.Logger) (Provider, error) {
	return NewOpenAI(settings, log), nil
}

func NewOpenAI(settings config.ProviderSettings, log *logger.Logger) *OpenAI {
	if settings.BaseURL == "" {
		settings.BaseURL = "https://api.openai.com/v1"
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		settings:   settings,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Component("provider.openai"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * timeout
			return b
		},
	}
}

func (p *OpenAI) Name() string { return OpenAIName }

func (p *OpenAI) Transcribe(ctx context.Context, audio Audio, opts Options) (string, error) {
	key, err := p.settings.Credential(opts.APIKey)
	if err != nil {
		return "", err
	}
	if len(audio.Data) == 0 {
		return "", &errs.ProviderError{Provider: OpenAIName, Op: "transcribe", Err: errors.New("empty audio")}
	}
	model := p.settings.Model(opts.Model, p.settings.TranscriptionModel)

	build := func() (*http.Request, error) {
		body := &bytes.Buffer{}
		w := multipart.NewWriter(body)
		part, err := w.CreateFormFile("file", audio.filename())
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(audio.Data); err != nil {
			return nil, err
		}
		if err := w.WriteField("model", model); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.settings.BaseURL+"/audio/transcriptions", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+key)
		return req, nil
	}

	var out struct {
		Text string `json:"text"`
	}
	p.log.WithField("model", model).WithField("audio_bytes", len(audio.Data)).Info("transcribing audio")
	if err := p.doJSON(ctx, "transcribe", build, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

func (p *OpenAI) Summarize(ctx context.Context, transcript string, opts Options) (string, error) {
	if blank(transcript) {
		return "", nil
	}
	key, err := p.settings.Credential(opts.APIKey)
	if err != nil {
		return "", err
	}
	req := chatRequest{
		Model:       p.settings.Model(opts.Model, p.settings.ChatModel),
		Temperature: summaryTemperature,
		Messages: []chatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: transcriptMessage(transcript)},
		},
	}
	content, err := p.chat(ctx, "summarize", key, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (p *OpenAI) Extract(ctx context.Context, transcript string, opts Options) (types.ExtractedInfo, error) {
	if blank(transcript) {
		return types.ExtractedInfo{}, nil
	}
	key, err := p.settings.Credential(opts.APIKey)
	if err != nil {
		return types.ExtractedInfo{}, err
	}
	req := chatRequest{
		Model:          p.settings.Model(opts.Model, p.settings.ChatModel),
		Temperature:    extractionTemperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: transcriptMessage(transcript)},
		},
	}
	content, err := p.chat(ctx, "extract", key, req)
	if err != nil {
		return bestEffort(p.log, types.ExtractedInfo{}, err)
	}
	info, err := parseExtraction(OpenAIName, content)
	return bestEffort(p.log, info, err)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAI) chat(ctx context.Context, op, key string, body chatRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.settings.BaseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)
		return req, nil
	}

	var resp chatResponse
	p.log.WithField("model", body.Model).WithField("op", op).Debug("chat completion request")
	if err := p.doJSON(ctx, op, build, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// doJSON performs the request with retry. 4xx responses other than 429 are
// not retried. Undecodable 2xx bodies surface as ParseError.
func (p *OpenAI) doJSON(ctx context.Context, op string, build func() (*http.Request, error), target any) error {
	var lastErr error
	attempt := func() error {
		req, err := build()
		if err != nil {
			lastErr = fmt.Errorf("build %s request: %w", op, err)
			return backoff.Permanent(lastErr)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = &errs.ProviderError{Provider: OpenAIName, Op: op, Err: err}
			p.log.WithError(err).WithField("op", op).Warn("openai request failed")
			return lastErr
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = &errs.ProviderError{Provider: OpenAIName, Op: op, StatusCode: resp.StatusCode, Err: err}
			return lastErr
		}
		if resp.StatusCode >= 300 {
			pe := &errs.ProviderError{Provider: OpenAIName, Op: op, StatusCode: resp.StatusCode, Err: errors.New(truncate(string(body), 512))}
			lastErr = pe
			if !pe.Retryable() {
				return backoff.Permanent(pe)
			}
			return pe
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = &errs.ParseError{Provider: OpenAIName, Raw: truncate(string(body), 512), Err: err}
			return backoff.Permanent(lastErr)
		}
		lastErr = nil
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(p.newBackOff(), ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return &errs.ProviderError{Provider: OpenAIName, Op: op, Err: err}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

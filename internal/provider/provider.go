// Package provider abstracts the speech-to-text and chat backends behind one contract.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"call-assist-go/internal/config"
	"call-assist-go/internal/errs"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/types"
)

// Audio is one recorded call.
type Audio struct {
	Data     []byte
	MIMEType string
	Filename string
}

func (a Audio) mimeType() string {
	if a.MIMEType != "" {
		return a.MIMEType
	}
	return "audio/wav"
}

func (a Audio) filename() string {
	if a.Filename != "" {
		return a.Filename
	}
	return "audio.wav"
}

// Options are per-call overrides. Empty fields fall back to the provider settings.
type Options struct {
	Model  string
	APIKey string
}

// Provider is the capability set every backend must offer.
//
// Summarize and Extract return a zero value without contacting the backend
// when the transcript is blank. Extract never fails on unparseable or
// rejected backend output; only configuration errors escape it.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio Audio, opts Options) (string, error)
	Summarize(ctx context.Context, transcript string, opts Options) (string, error)
	Extract(ctx context.Context, transcript string, opts Options) (types.ExtractedInfo, error)
}

// Factory builds a provider from its environment settings.
type Factory func(settings config.ProviderSettings, log *logger.Logger) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows the built-in openai and gemini adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(OpenAIName, NewOpenAIFromSettings)
	r.Register(GeminiName, NewGeminiFromSettings)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the named provider, failing with ConfigError for unknown names.
func (r *Registry) New(name string, settings config.ProviderSettings, log *logger.Logger) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, &errs.ConfigError{
			Key:     "PROVIDER",
			Message: fmt.Sprintf("unsupported provider %q; use one of %v", name, r.Names()),
		}
	}
	return f(settings, log)
}

// BuildAll instantiates every registered provider from cfg.
func (r *Registry) BuildAll(cfg *config.Config, log *logger.Logger) (map[string]Provider, error) {
	out := make(map[string]Provider)
	for _, name := range r.Names() {
		p, err := r.New(name, cfg.Settings(name), log)
		if err != nil {
			return nil, fmt.Errorf("build provider %s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// bestEffort applies the extraction fallback: backend and parse failures
// degrade to an all-unknown result, configuration failures propagate.
func bestEffort(log *logger.Logger, info types.ExtractedInfo, err error) (types.ExtractedInfo, error) {
	if err == nil {
		return info, nil
	}
	if errs.IsParse(err) || errs.IsProvider(err) {
		log.WithError(err).Warn("extraction degraded to unknown fields")
		return types.ExtractedInfo{}, nil
	}
	return types.ExtractedInfo{}, err
}

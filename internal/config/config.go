package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"call-assist-go/internal/errs"
)

// ProviderSettings carries everything a provider adapter needs from the environment.
type ProviderSettings struct {
	Name               string
	APIKey             string
	APIKeyEnv          string
	TranscriptionModel string
	ChatModel          string
	BaseURL            string
	Timeout            time.Duration
}

type TelephonyConfig struct {
	AccountSID          string
	AuthToken           string
	CallerID            string
	PublicBaseURL       string
	APIBase             string
	Timeout             time.Duration
	RecordingMaxSeconds int
}

type ResultsConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

type Config struct {
	Environment     string
	LogLevel        string
	Port            string
	Provider        string
	Providers       map[string]ProviderSettings
	SubmissionsPath string
	Telephony       TelephonyConfig
	Results         ResultsConfig
}

// providerEnv describes where each provider's settings live in the environment.
// A new provider gets one row here and a registered adapter.
type providerEnv struct {
	name                 string
	keyEnv               string
	transcriptionEnv     string
	chatEnv              string
	baseURLEnv           string
	defaultTranscription string
	defaultChat          string
	defaultBaseURL       string
}

var providerEnvs = []providerEnv{
	{
		name:                 "openai",
		keyEnv:               "OPENAI_API_KEY",
		transcriptionEnv:     "TRANSCRIPTION_MODEL",
		chatEnv:              "CHAT_MODEL",
		baseURLEnv:           "OPENAI_BASE_URL",
		defaultTranscription: "gpt-4o-mini-transcribe",
		defaultChat:          "gpt-4o-mini",
		defaultBaseURL:       "https://api.openai.com/v1",
	},
	{
		name:                 "gemini",
		keyEnv:               "GOOGLE_API_KEY",
		transcriptionEnv:     "GEMINI_TRANSCRIPTION_MODEL",
		chatEnv:              "GEMINI_CHAT_MODEL",
		baseURLEnv:           "GEMINI_BASE_URL",
		defaultTranscription: "gemini-1.5-flash",
		defaultChat:          "gemini-1.5-flash",
	},
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load() // loads .env without overriding real env
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("ENVIRONMENT", "local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("PROVIDER", "openai")
	v.SetDefault("PROVIDER_TIMEOUT", 60*time.Second)
	v.SetDefault("SUBMISSIONS_PATH", "data/submissions.csv")
	v.SetDefault("TWILIO_API_BASE", "https://api.twilio.com")
	v.SetDefault("TELEPHONY_TIMEOUT", 60*time.Second)
	v.SetDefault("RECORDING_MAX_SECONDS", 600)
	v.SetDefault("RESULTS_BACKEND", "memory")
	v.SetDefault("RESULTS_TTL", 24*time.Hour)
	for _, p := range providerEnvs {
		v.SetDefault(p.transcriptionEnv, p.defaultTranscription)
		v.SetDefault(p.chatEnv, p.defaultChat)
		v.SetDefault(p.baseURLEnv, p.defaultBaseURL)
		v.SetDefault(p.keyEnv, "")
	}
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment:     v.GetString("ENVIRONMENT"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		Port:            v.GetString("PORT"),
		Provider:        normalizeName(v.GetString("PROVIDER")),
		Providers:       make(map[string]ProviderSettings, len(providerEnvs)),
		SubmissionsPath: v.GetString("SUBMISSIONS_PATH"),
		Telephony: TelephonyConfig{
			AccountSID:          v.GetString("TWILIO_ACCOUNT_SID"),
			AuthToken:           v.GetString("TWILIO_AUTH_TOKEN"),
			CallerID:            v.GetString("TWILIO_CALLER_ID"),
			PublicBaseURL:       strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
			APIBase:             strings.TrimRight(v.GetString("TWILIO_API_BASE"), "/"),
			Timeout:             v.GetDuration("TELEPHONY_TIMEOUT"),
			RecordingMaxSeconds: v.GetInt("RECORDING_MAX_SECONDS"),
		},
		Results: ResultsConfig{
			Backend:       strings.ToLower(v.GetString("RESULTS_BACKEND")),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTL:           v.GetDuration("RESULTS_TTL"),
		},
	}

	timeout := v.GetDuration("PROVIDER_TIMEOUT")
	for _, p := range providerEnvs {
		cfg.Providers[p.name] = ProviderSettings{
			Name:               p.name,
			APIKey:             strings.TrimSpace(v.GetString(p.keyEnv)),
			APIKeyEnv:          p.keyEnv,
			TranscriptionModel: v.GetString(p.transcriptionEnv),
			ChatModel:          v.GetString(p.chatEnv),
			BaseURL:            strings.TrimRight(v.GetString(p.baseURLEnv), "/"),
			Timeout:            timeout,
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Results.Backend {
	case "memory":
	case "redis":
		if c.Results.RedisAddr == "" {
			return &errs.ConfigError{Key: "REDIS_ADDR", Message: "required when RESULTS_BACKEND=redis"}
		}
	default:
		return &errs.ConfigError{Key: "RESULTS_BACKEND", Message: fmt.Sprintf("unsupported backend %q", c.Results.Backend)}
	}
	return nil
}

// ProviderName applies override > configured default.
func (c *Config) ProviderName(override string) string {
	if name := normalizeName(override); name != "" {
		return name
	}
	return c.Provider
}

// Settings returns the environment settings for name. Unknown names get an
// empty settings block so the registry can report the unsupported provider.
func (c *Config) Settings(name string) ProviderSettings {
	if s, ok := c.Providers[name]; ok {
		return s
	}
	return ProviderSettings{Name: name}
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Credential resolves explicit > environment and fails with ConfigError when neither is set.
func (s ProviderSettings) Credential(explicit string) (string, error) {
	if k := strings.TrimSpace(explicit); k != "" {
		return k, nil
	}
	if s.APIKey != "" {
		return s.APIKey, nil
	}
	env := s.APIKeyEnv
	if env == "" {
		env = strings.ToUpper(s.Name) + "_API_KEY"
	}
	return "", errs.CredentialNotSet(env)
}

// Model resolves explicit > environment/default.
func (s ProviderSettings) Model(explicit, fallback string) string {
	if m := strings.TrimSpace(explicit); m != "" {
		return m
	}
	return fallback
}

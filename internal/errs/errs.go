// Package errs defines the error taxonomy shared by the pipeline stages.
package errs

import (
	"errors"
	"fmt"
)

// ConfigError is a missing credential, unsupported provider or absent setting.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// CredentialNotSet reports that neither an explicit credential nor envKey was provided.
func CredentialNotSet(envKey string) *ConfigError {
	return &ConfigError{Key: envKey, Message: "credential not set; provide it via environment or request"}
}

// ProviderError is a backend rejection or transport failure.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable is true for transport failures and 5xx/429 responses.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// ParseError means the backend answered but not in the expected structure.
type ParseError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable response: %v", e.Provider, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Pipeline stage names.
const (
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
	StageExtract    = "extract"
	StageLookup     = "lookup"
)

// StageError tags a failure with the pipeline stage it came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage wraps err with the stage name; nil stays nil.
func Stage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

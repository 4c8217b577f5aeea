package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_WrapsAndClassifies(t *testing.T) {
	base := CredentialNotSet("OPENAI_API_KEY")
	err := Stage(StageSummarize, fmt.Errorf("summarize: %w", base))

	var se *StageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, StageSummarize, se.Stage)
	assert.True(t, IsConfig(err))
	assert.False(t, IsProvider(err))
	assert.Contains(t, err.Error(), "credential not set")
}

func TestStage_NilAndIdempotent(t *testing.T) {
	assert.NoError(t, Stage(StageExtract, nil))

	once := Stage(StageExtract, errors.New("boom"))
	twice := Stage(StageExtract, once)
	assert.Same(t, once, twice)
}

func TestProviderError_Retryable(t *testing.T) {
	assert.True(t, (&ProviderError{Provider: "openai", Op: "chat", Err: errors.New("eof")}).Retryable())
	assert.True(t, (&ProviderError{StatusCode: 503}).Retryable())
	assert.True(t, (&ProviderError{StatusCode: 429}).Retryable())
	assert.False(t, (&ProviderError{StatusCode: 401}).Retryable())
}

func TestParseError_Unwrap(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	err := fmt.Errorf("extract: %w", &ParseError{Provider: "gemini", Raw: "{", Err: inner})
	assert.True(t, IsParse(err))
	assert.ErrorIs(t, err, inner)
}

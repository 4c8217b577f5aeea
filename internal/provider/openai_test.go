package provider

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-assist-go/internal/config"
	"call-assist-go/internal/errs"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/types"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) (*OpenAI, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	p := NewOpenAI(config.ProviderSettings{
		Name:               OpenAIName,
		APIKey:             "env-key",
		APIKeyEnv:          "OPENAI_API_KEY",
		TranscriptionModel: "gpt-4o-mini-transcribe",
		ChatModel:          "gpt-4o-mini",
		BaseURL:            srv.URL,
		Timeout:            5 * time.Second,
	}, logger.Discard())
	p.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	return p, &calls
}

func chatReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func TestOpenAI_Transcribe(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer explicit-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFdata", string(data))
		_, _ = w.Write([]byte(`{"text":"  hello caller  "}`))
	})

	text, err := p.Transcribe(t.Context(), Audio{Data: []byte("RIFFdata")}, Options{Model: "whisper-1", APIKey: "explicit-key"})
	require.NoError(t, err)
	assert.Equal(t, "hello caller", text)
}

func TestOpenAI_Transcribe_NoText(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":""}`))
	})
	text, err := p.Transcribe(t.Context(), Audio{Data: []byte("x")}, Options{})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOpenAI_Transcribe_Rejected(t *testing.T) {
	p, calls := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})
	_, err := p.Transcribe(t.Context(), Audio{Data: []byte("x")}, Options{})
	require.Error(t, err)

	var pe *errs.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls), "4xx must not be retried")
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var n int32
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		chatReply(w, "Purpose: renew policy")
	})
	summary, err := p.Summarize(t.Context(), "caller wants to renew", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Purpose: renew policy", summary)
	assert.EqualValues(t, 2, atomic.LoadInt32(&n))
}

func TestOpenAI_MissingCredential(t *testing.T) {
	p, calls := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {})
	p.settings.APIKey = ""

	_, err := p.Summarize(t.Context(), "text", Options{})
	assert.True(t, errs.IsConfig(err))

	_, err = p.Transcribe(t.Context(), Audio{Data: []byte("x")}, Options{})
	assert.True(t, errs.IsConfig(err))

	_, err = p.Extract(t.Context(), "text", Options{})
	assert.True(t, errs.IsConfig(err), "credential errors are not swallowed")

	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestOpenAI_BlankTranscriptSkipsBackend(t *testing.T) {
	p, calls := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {})

	summary, err := p.Summarize(t.Context(), "   \n", Options{})
	require.NoError(t, err)
	assert.Empty(t, summary)

	info, err := p.Extract(t.Context(), "", Options{})
	require.NoError(t, err)
	assert.True(t, info.IsEmpty())

	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestOpenAI_Summarize_RequestShape(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.InDelta(t, 0.2, req.Temperature, 1e-9)
		assert.Nil(t, req.ResponseFormat)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "my car was hit")
		chatReply(w, "summary")
	})
	_, err := p.Summarize(t.Context(), "my car was hit", Options{})
	require.NoError(t, err)
}

func TestOpenAI_Extract(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Zero(t, req.Temperature)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		chatReply(w, `{"name":"Jordan Lee","mobile_number":"555 010 2030","submission_number":null}`)
	})

	info, err := p.Extract(t.Context(), "This is Jordan Lee, 555 010 2030", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Jordan Lee", types.Value(info.Name))
	assert.Equal(t, "5550102030", types.Value(info.NormalizedMobile()))
	assert.Nil(t, info.SubmissionNumber)
}

func TestOpenAI_Extract_MalformedDegrades(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(w, "I am not JSON")
	})
	info, err := p.Extract(t.Context(), "transcript", Options{})
	require.NoError(t, err)
	assert.True(t, info.IsEmpty())
}

func TestOpenAI_Extract_BackendErrorDegrades(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	info, err := p.Extract(t.Context(), "transcript", Options{})
	require.NoError(t, err)
	assert.True(t, info.IsEmpty())
}

func TestOpenAI_GarbageBodyIsParseError(t *testing.T) {
	p, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	})
	_, err := p.Summarize(t.Context(), "transcript", Options{})
	assert.True(t, errs.IsParse(err))
}

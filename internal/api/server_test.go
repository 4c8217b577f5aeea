package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-assist-go/internal/config"
	"call-assist-go/internal/errs"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/matcher"
	"call-assist-go/internal/pipeline"
	"call-assist-go/internal/provider"
	"call-assist-go/internal/results"
	"call-assist-go/internal/types"
)

type stubProvider struct {
	transcript   string
	summary      string
	info         types.ExtractedInfo
	summarizeErr error
	gotAudio     provider.Audio
	gotOpts      provider.Options
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Transcribe(ctx context.Context, a provider.Audio, o provider.Options) (string, error) {
	p.gotAudio, p.gotOpts = a, o
	if len(a.Data) == 0 {
		return "", &errs.ProviderError{Provider: "stub", Op: "transcribe", Err: errors.New("empty audio")}
	}
	return p.transcript, nil
}

func (p *stubProvider) Summarize(ctx context.Context, s string, o provider.Options) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	if p.summarizeErr != nil {
		return "", p.summarizeErr
	}
	return p.summary, nil
}

func (p *stubProvider) Extract(ctx context.Context, s string, o provider.Options) (types.ExtractedInfo, error) {
	if strings.TrimSpace(s) == "" {
		return types.ExtractedInfo{}, nil
	}
	return p.info, nil
}

type fakeTelephony struct {
	sid      string
	startErr error
	audio    []byte
	fetchErr error
	gotTo    string
	gotURL   string
}

func (f *fakeTelephony) StartCall(ctx context.Context, to string) (string, error) {
	f.gotTo = to
	return f.sid, f.startErr
}

func (f *fakeTelephony) FetchRecording(ctx context.Context, u string) ([]byte, error) {
	f.gotURL = u
	return f.audio, f.fetchErr
}

type staticSource []types.SubmissionRecord

func (s staticSource) Load() ([]types.SubmissionRecord, error) { return s, nil }

type fixture struct {
	srv   http.Handler
	prov  *stubProvider
	tel   *fakeTelephony
	store *results.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Provider: "stub",
		Telephony: config.TelephonyConfig{
			PublicBaseURL:       "https://assist.example.com",
			RecordingMaxSeconds: 600,
		},
	}
	prov := &stubProvider{
		transcript: "Hi, this is Jordan Lee about SUB100.",
		summary:    "Purpose: policy renewal",
		info:       types.NewExtractedInfo("Jordan Lee", "", "SUB100"),
	}
	records := staticSource{
		{types.ColSubmissionNumber: "SUB100", types.ColName: "Jordan Lee", types.ColMobileNumber: "+1 (555) 010-2030"},
	}
	log := logger.Discard()
	orch := pipeline.New(cfg, map[string]provider.Provider{"stub": prov}, matcher.New(records, log), log)
	tel := &fakeTelephony{sid: "CA42", audio: []byte("RIFF")}
	store := results.NewMemoryStore()

	return &fixture{
		srv:   NewServer(cfg, orch, tel, store, log).Routes(),
		prov:  prov,
		tel:   tel,
		store: store,
	}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target string, fields map[string]string, audio []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if audio != nil {
		part, err := w.CreateFormFile("audio", "call.wav")
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := f.do(req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestTranscribe(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartRequest(t, "/pipeline/transcribe", map[string]string{"model": "whisper-1", "api_key": "k"}, []byte("RIFF")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[map[string]string](t, rec)
	assert.Equal(t, f.prov.transcript, body["transcript"])
	assert.Equal(t, "call.wav", f.prov.gotAudio.Filename)
	assert.Equal(t, provider.Options{Model: "whisper-1", APIKey: "k"}, f.prov.gotOpts)
}

func TestTranscribe_MissingAudio(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartRequest(t, "/pipeline/transcribe", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscribe_EmptyAudioIsBadGateway(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartRequest(t, "/pipeline/transcribe", nil, []byte{}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, errs.StageTranscribe, body.Stage)
}

func TestSummarizeAndExtract(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonRequest(t, http.MethodPost, "/pipeline/summarize", map[string]string{"transcript": "hello"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Purpose: policy renewal", decode[map[string]string](t, rec)["summary"])

	rec = f.do(jsonRequest(t, http.MethodPost, "/pipeline/extract", map[string]string{"transcript": "hello"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"extracted":{"name":"Jordan Lee","mobile_number":null,"submission_number":"SUB100"}}`, rec.Body.String())
}

func TestSummarize_BlankTranscript(t *testing.T) {
	f := newFixture(t)
	rec := f.do(jsonRequest(t, http.MethodPost, "/pipeline/summarize", map[string]string{"transcript": "   "}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decode[map[string]string](t, rec)["summary"])
}

func TestStageErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"config", errs.CredentialNotSet("OPENAI_API_KEY"), http.StatusBadRequest},
		{"provider", &errs.ProviderError{Provider: "stub", Op: "summarize", StatusCode: 503, Err: errors.New("down")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.prov.summarizeErr = tt.err
			rec := f.do(jsonRequest(t, http.MethodPost, "/pipeline/summarize", map[string]string{"transcript": "hello"}))
			assert.Equal(t, tt.status, rec.Code)
			body := decode[errorBody](t, rec)
			assert.Equal(t, errs.StageSummarize, body.Stage)
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestUnsupportedProviderIsBadRequest(t *testing.T) {
	f := newFixture(t)
	rec := f.do(jsonRequest(t, http.MethodPost, "/pipeline/extract", map[string]string{"transcript": "x", "provider": "watson"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "watson")
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartRequest(t, "/pipeline/run", map[string]string{"lookup": "true"}, []byte("RIFF")))
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[types.Result](t, rec)
	assert.Equal(t, f.prov.transcript, res.Transcript)
	assert.Equal(t, "Purpose: policy renewal", res.Summary)
	assert.Equal(t, "SUB100", res.MatchedSubmission.Get(types.ColSubmissionNumber))
	assert.Empty(t, res.Errors)
}

func TestRun_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.prov.summarizeErr = &errs.ProviderError{Provider: "stub", Op: "summarize", StatusCode: 500, Err: errors.New("down")}

	rec := f.do(multipartRequest(t, "/pipeline/run", map[string]string{"transcript": "pasted text"}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[types.Result](t, rec)
	assert.Equal(t, "pasted text", res.Transcript)
	assert.Equal(t, "SUB100", types.Value(res.Extracted.SubmissionNumber))
	assert.Nil(t, res.MatchedSubmission)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, errs.StageSummarize, res.Errors[0].Stage)
}

func TestRun_NeedsInput(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartRequest(t, "/pipeline/run", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	rec := f.do(jsonRequest(t, http.MethodPost, "/submissions/lookup", map[string]any{"mobile_number": "5550102030"}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]types.SubmissionRecord](t, rec)
	assert.Equal(t, "SUB100", body["matched_submission"].Get(types.ColSubmissionNumber))

	rec = f.do(jsonRequest(t, http.MethodPost, "/submissions/lookup", map[string]any{"name": "Lee Jordan"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"matched_submission":null}`, rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodPost, "/submissions/lookup", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCall(t *testing.T) {
	f := newFixture(t)
	rec := f.do(jsonRequest(t, http.MethodPost, "/call/start", map[string]string{"to": "+15551234567"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"call_sid":"CA42"}`, rec.Body.String())
	assert.Equal(t, "+15551234567", f.tel.gotTo)
}

func TestStartCall_Validation(t *testing.T) {
	f := newFixture(t)
	for _, body := range []map[string]string{{}, {"to": "555-0100"}} {
		rec := f.do(jsonRequest(t, http.MethodPost, "/call/start", body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "to:")
	}
	assert.Empty(t, f.tel.gotTo)
}

func TestStartCall_MissingSettings(t *testing.T) {
	f := newFixture(t)
	f.tel.startErr = &errs.ConfigError{Key: "TWILIO_CALLER_ID", Message: "caller id not set"}
	rec := f.do(jsonRequest(t, http.MethodPost, "/call/start", map[string]string{"to": "+15551234567"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "TWILIO_CALLER_ID")
}

func TestVoice(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/twilio/voice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `recordingStatusCallback="https://assist.example.com/twilio/recording"`)
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestRecordingThenResult(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/call/result/CA42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"pending","call_sid":"CA42"}`, rec.Body.String())

	rec = f.do(formRequest("/twilio/recording", url.Values{
		"RecordingUrl": {"https://api.twilio.com/recordings/RE1"},
		"CallSid":      {"CA42"},
	}))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://api.twilio.com/recordings/RE1", f.tel.gotURL)
	assert.Equal(t, "audio/wav", f.prov.gotAudio.MIMEType)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/call/result/CA42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[types.CallResult](t, rec)
	assert.Equal(t, types.StatusReady, got.Status)
	assert.Equal(t, "CA42", got.CallSID)
	assert.Equal(t, f.prov.transcript, got.Transcript)
	assert.Equal(t, "SUB100", got.MatchedSubmission.Get(types.ColSubmissionNumber))
}

func TestRecording_StageFailureStored(t *testing.T) {
	f := newFixture(t)
	f.prov.summarizeErr = &errs.ProviderError{Provider: "stub", Op: "summarize", StatusCode: 500, Err: errors.New("down")}

	rec := f.do(formRequest("/twilio/recording", url.Values{"RecordingUrl": {"u"}, "CallSid": {"CA7"}}))
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, found, err := f.store.Get(t.Context(), "CA7")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, errs.StageSummarize, got.Errors[0].Stage)
	assert.Equal(t, "SUB100", got.MatchedSubmission.Get(types.ColSubmissionNumber))
}

func TestRecording_BadRequests(t *testing.T) {
	f := newFixture(t)
	rec := f.do(formRequest("/twilio/recording", url.Values{"CallSid": {"CA1"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.tel.fetchErr = &errs.ProviderError{Provider: "twilio", Op: "fetch_recording", StatusCode: 403, Err: errors.New("forbidden")}
	rec = f.do(formRequest("/twilio/recording", url.Values{"RecordingUrl": {"u"}, "CallSid": {"CA1"}}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	_, found, _ := f.store.Get(t.Context(), "CA1")
	assert.False(t, found)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/call/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"call-assist-go/internal/pipeline"
	"call-assist-go/internal/provider"
	"call-assist-go/internal/types"
)

const maxUploadBytes = 32 << 20

type textRequest struct {
	Transcript string `json:"transcript"`
	Provider   string `json:"provider,omitempty" validate:"omitempty,max=64"`
	Model      string `json:"model,omitempty" validate:"omitempty,max=128"`
	APIKey     string `json:"api_key,omitempty"`
}

func (t textRequest) options() pipeline.Options {
	return pipeline.Options{Provider: t.Provider, APIKey: t.APIKey, ChatModel: t.Model}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return validateRequest(dst)
}

// readAudio returns nil when the form carries no audio part.
func readAudio(r *http.Request) (*provider.Audio, error) {
	file, header, err := r.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return &provider.Audio{
		Data:     data,
		MIMEType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
	}, nil
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeBadRequest(w, "expected multipart form with an audio file")
		return
	}
	audio, err := readAudio(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if audio == nil {
		writeBadRequest(w, "audio: is required")
		return
	}

	opts := pipeline.Options{
		Provider:           r.FormValue("provider"),
		APIKey:             r.FormValue("api_key"),
		TranscriptionModel: r.FormValue("model"),
	}
	text, err := s.orch.RunTranscribe(r.Context(), *audio, opts)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": text})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	summary, err := s.orch.RunSummarize(r.Context(), req.Transcript, req.options())
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	info, err := s.orch.RunExtract(r.Context(), req.Transcript, req.options())
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.ExtractedInfo{"extracted": info})
}

// handleRun always answers 200 with the partial result; failed stages are
// listed in its errors field.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeBadRequest(w, "expected multipart form with audio and/or transcript")
		return
	}
	audio, err := readAudio(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	in := pipeline.Input{Audio: audio, Transcript: r.FormValue("transcript")}
	if in.Audio == nil && in.Transcript == "" {
		writeBadRequest(w, "audio or transcript is required")
		return
	}
	opts := pipeline.Options{
		Provider:           r.FormValue("provider"),
		APIKey:             r.FormValue("api_key"),
		TranscriptionModel: r.FormValue("transcription_model"),
		ChatModel:          r.FormValue("chat_model"),
	}

	run := s.orch.RunAll
	if lookup, _ := strconv.ParseBool(r.FormValue("lookup")); lookup {
		run = s.orch.Process
	}
	res, err := run(r.Context(), in, opts)
	if err != nil {
		s.log.WithRequest(r).WithField("error", err.Error()).Warn("pipeline finished with failures")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var info types.ExtractedInfo
	if err := decodeJSON(r, &info); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, _, err := s.orch.RunLookup(r.Context(), info)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.SubmissionRecord{"matched_submission": rec})
}

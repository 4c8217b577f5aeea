package api

import (
	"net/http"

	"call-assist-go/internal/errs"
	"call-assist-go/internal/metrics"
	"call-assist-go/internal/pipeline"
	"call-assist-go/internal/provider"
	"call-assist-go/internal/telephony"
	"call-assist-go/internal/types"
)

type startCallRequest struct {
	To string `json:"to" validate:"required,e164"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	sid, err := s.telephony.StartCall(r.Context(), req.To)
	if err != nil {
		metrics.CallsStarted.WithLabelValues("error").Inc()
		status := http.StatusBadGateway
		if errs.IsConfig(err) {
			// the server is missing settings, not the caller
			status = http.StatusInternalServerError
		}
		s.log.WithRequest(r).WithField("error", err.Error()).Error("start call failed")
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}
	metrics.CallsStarted.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"call_sid": sid})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	doc, err := telephony.VoiceResponse(s.cfg.Telephony.PublicBaseURL, s.cfg.Telephony.RecordingMaxSeconds)
	if err != nil {
		s.log.WithRequest(r).WithField("error", err.Error()).Error("render twiml failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(doc)
}

// handleRecording runs the full pipeline on a finished recording. Stage
// failures end up in the stored result so the caller can see them.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	recordingURL := r.PostFormValue("RecordingUrl")
	callSID := r.PostFormValue("CallSid")
	if recordingURL == "" || callSID == "" {
		http.Error(w, "Missing RecordingUrl or CallSid", http.StatusBadRequest)
		return
	}
	log := s.log.WithRequest(r).WithField("call_sid", callSID)

	data, err := s.telephony.FetchRecording(r.Context(), recordingURL)
	if err != nil {
		log.WithField("error", err.Error()).Error("recording download failed")
		writeJSON(w, http.StatusBadGateway, errorBody{Stage: "recording", Error: err.Error()})
		return
	}

	audio := provider.Audio{Data: data, MIMEType: "audio/wav", Filename: callSID + ".wav"}
	res, err := s.orch.Process(r.Context(), pipeline.Input{Audio: &audio}, pipeline.Options{})
	if err != nil {
		log.WithField("error", err.Error()).Warn("call processed with failures")
	}

	callRes := types.CallResult{Status: types.StatusReady, CallSID: callSID, Result: res}
	if err := s.results.Put(r.Context(), callSID, callRes); err != nil {
		log.WithField("error", err.Error()).Error("store call result failed")
		http.Error(w, "store result failed", http.StatusInternalServerError)
		return
	}
	log.WithField("matched", res.MatchedSubmission != nil).Info("call result stored")
	w.WriteHeader(http.StatusNoContent)
}

type pendingBody struct {
	Status  string `json:"status"`
	CallSID string `json:"call_sid"`
}

func (s *Server) handleCallResult(w http.ResponseWriter, r *http.Request) {
	callSID := r.PathValue("call_sid")
	res, found, err := s.results.Get(r.Context(), callSID)
	if err != nil {
		s.log.WithRequest(r).WithField("error", err.Error()).Error("load call result failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "load result failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, pendingBody{Status: types.StatusPending, CallSID: callSID})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

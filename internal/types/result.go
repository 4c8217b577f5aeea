package types

// Result is the payload returned to any caller of the pipeline.
type Result struct {
	Transcript        string           `json:"transcript"`
	Summary           string           `json:"summary"`
	Extracted         ExtractedInfo    `json:"extracted"`
	MatchedSubmission SubmissionRecord `json:"matched_submission"`
	Errors            []StageFailure   `json:"errors,omitempty"`
}

// StageFailure is the rendered form of a failed pipeline stage.
type StageFailure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

const (
	StatusPending = "pending"
	StatusReady   = "ready"
)

// CallResult is what the telephony flow stores per call identifier.
type CallResult struct {
	Status  string `json:"status"`
	CallSID string `json:"call_sid"`
	Result
}

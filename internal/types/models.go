package types

import (
	"encoding/json"
	"strings"
)

// ExtractedInfo holds caller identity fields pulled from a transcript.
// A nil field means unknown; blank strings are never stored.
type ExtractedInfo struct {
	Name             *string `json:"name"`
	MobileNumber     *string `json:"mobile_number"`
	SubmissionNumber *string `json:"submission_number"`
}

// NewExtractedInfo builds an ExtractedInfo, treating empty or whitespace values as unknown.
func NewExtractedInfo(name, mobile, submission string) ExtractedInfo {
	return ExtractedInfo{
		Name:             optional(name),
		MobileNumber:     optional(mobile),
		SubmissionNumber: optional(submission),
	}
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func (e *ExtractedInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name             *string `json:"name"`
		MobileNumber     *string `json:"mobile_number"`
		SubmissionNumber *string `json:"submission_number"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = NewExtractedInfo(Value(raw.Name), Value(raw.MobileNumber), Value(raw.SubmissionNumber))
	return nil
}

// IsEmpty reports whether every field is unknown.
func (e ExtractedInfo) IsEmpty() bool {
	return e.Name == nil && e.MobileNumber == nil && e.SubmissionNumber == nil
}

// NormalizedMobile returns the digits of MobileNumber, or nil when there are none.
func (e ExtractedInfo) NormalizedMobile() *string {
	if e.MobileNumber == nil {
		return nil
	}
	return optional(DigitsOnly(*e.MobileNumber))
}

// DigitsOnly strips every non-digit rune from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Value dereferences an optional field, returning "" for unknown.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Submission columns every store is expected to carry.
const (
	ColSubmissionNumber = "submission_number"
	ColName             = "name"
	ColMobileNumber     = "mobile_number"
	ColPolicyType       = "policy_type"
	ColStatus           = "status"
	ColPremium          = "premium"
	ColCreatedAt        = "created_at"
)

// SubmissionColumns lists the expected columns in file order.
var SubmissionColumns = []string{
	ColSubmissionNumber,
	ColName,
	ColMobileNumber,
	ColPolicyType,
	ColStatus,
	ColPremium,
	ColCreatedAt,
}

// SubmissionRecord maps column name to the verbatim cell text.
type SubmissionRecord map[string]string

func (r SubmissionRecord) Get(col string) string {
	return r[col]
}

// Clone returns a copy safe to hand out to callers.
func (r SubmissionRecord) Clone() SubmissionRecord {
	if r == nil {
		return nil
	}
	out := make(SubmissionRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Package matcher finds the submission a caller is asking about.
//
// Strategies run in trust order and the first one with a hit wins:
// exact submission number, digits-only mobile number (exact digits first, then
// allowing a leading country code on either side), then a case-insensitive
// substring match on name. The name test is a plain substring check, so
// "jordan" finds "Jordan Lee" but "Lee Jordan" does not.
//
// The country-code pass runs only after exact digit equality has missed. It
// exists so a caller saying "5550102030" finds the record stored as
// "+1 (555) 010-2030".
package matcher

import (
	"strings"

	"call-assist-go/internal/logger"
	"call-assist-go/internal/types"
)

// Source supplies the records to search, in a stable order.
type Source interface {
	Load() ([]types.SubmissionRecord, error)
}

type Matcher struct {
	source Source
	log    *logger.Logger
}

func New(source Source, log *logger.Logger) *Matcher {
	return &Matcher{source: source, log: log.Component("matcher")}
}

// Find returns a copy of the best matching record. found is false on a miss.
func (m *Matcher) Find(info types.ExtractedInfo) (rec types.SubmissionRecord, found bool, err error) {
	records, err := m.source.Load()
	if err != nil {
		return nil, false, err
	}
	rec, strategy := Find(records, info)
	if rec == nil {
		m.log.Info("no submission matched")
		return nil, false, nil
	}
	m.log.WithField("strategy", strategy).
		WithField("submission_number", rec.Get(types.ColSubmissionNumber)).
		Info("submission matched")
	return rec.Clone(), true, nil
}

const (
	minSubscriberDigits  = 7
	maxCountryCodeDigits = 3
)

// sameSubscriber reports whether two digit strings differ only by a leading
// country code, e.g. "15550102030" and "5550102030".
func sameSubscriber(a, b string) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	extra := len(a) - len(b)
	if extra == 0 || extra > maxCountryCodeDigits || len(b) < minSubscriberDigits {
		return false
	}
	return strings.HasSuffix(a, b)
}

// Find runs the strategies over records and reports which one matched.
func Find(records []types.SubmissionRecord, info types.ExtractedInfo) (types.SubmissionRecord, string) {
	if len(records) == 0 {
		return nil, ""
	}

	if info.SubmissionNumber != nil {
		want := strings.TrimSpace(*info.SubmissionNumber)
		if want != "" {
			for _, r := range records {
				if strings.TrimSpace(r.Get(types.ColSubmissionNumber)) == want {
					return r, "submission_number"
				}
			}
		}
	}

	if mobile := info.NormalizedMobile(); mobile != nil {
		for _, r := range records {
			if types.DigitsOnly(r.Get(types.ColMobileNumber)) == *mobile {
				return r, "mobile_number"
			}
		}
		for _, r := range records {
			if sameSubscriber(types.DigitsOnly(r.Get(types.ColMobileNumber)), *mobile) {
				return r, "mobile_number"
			}
		}
	}

	if info.Name != nil {
		want := strings.ToLower(strings.TrimSpace(*info.Name))
		if want != "" {
			for _, r := range records {
				if strings.Contains(strings.ToLower(r.Get(types.ColName)), want) {
					return r, "name"
				}
			}
		}
	}

	return nil, ""
}

package submissions

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"call-assist-go/internal/logger"
	"call-assist-go/internal/types"
)

// Store loads the submission file once per process and serves it from memory.
type Store struct {
	path string
	log  *logger.Logger

	once    sync.Once
	records []types.SubmissionRecord
	err     error
	reads   int
}

func NewStore(path string, log *logger.Logger) *Store {
	return &Store{path: path, log: log.Component("submissions").With("path", path)}
}

// Load returns the loaded submissions in file order. Concurrent first
// callers share a single read; the result (including any error) is kept for
// the lifetime of the Store. The returned slice must not be modified.
func (s *Store) Load() ([]types.SubmissionRecord, error) {
	s.once.Do(func() {
		s.reads++
		s.records, s.err = s.read()
		if s.err != nil {
			s.log.WithError(s.err).Error("submission load failed")
			return
		}
		s.log.WithField("records", len(s.records)).Info("submissions loaded")
	})
	return s.records, s.err
}

func (s *Store) read() ([]types.SubmissionRecord, error) {
	if s.path == "" {
		return nil, nil
	}
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("submission file not found; lookups will not match")
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(s.path)
	default:
		rows, err = readCSV(s.path)
	}
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// toRecords maps data rows onto the header. Short rows are padded with empty
// strings and every expected column is present in each record.
func toRecords(rows [][]string) []types.SubmissionRecord {
	if len(rows) == 0 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	out := make([]types.SubmissionRecord, 0, len(rows)-1)
	for _, r := range rows[1:] {
		if isBlankRow(r) {
			continue
		}
		rec := make(types.SubmissionRecord, len(header)+len(types.SubmissionColumns))
		for _, col := range types.SubmissionColumns {
			rec[col] = ""
		}
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(r) {
				rec[col] = r[i]
			} else {
				rec[col] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}

func isBlankRow(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

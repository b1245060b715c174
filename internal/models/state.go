package models

import "errors"

// ErrAnalysisInProgress is returned when an upload starts while another is still running.
var ErrAnalysisInProgress = errors.New("an analysis is already in progress")

// Phase is the screen an UploadState currently calls for.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAnalyzing Phase = "analyzing"
	PhaseResults   Phase = "results"
	PhaseError     Phase = "error"
)

// UploadState is the view state behind the upload and results screens.
type UploadState struct {
	FileName    string
	FileSize    int64
	Analyzing   bool
	ShowResults bool
	Error       string
	Dashboard   *Dashboard
}

// Phase derives the current phase from the state flags.
func (s UploadState) Phase() Phase {
	switch {
	case s.Analyzing:
		return PhaseAnalyzing
	case s.ShowResults && s.Dashboard != nil:
		return PhaseResults
	case s.Error != "":
		return PhaseError
	default:
		return PhaseIdle
	}
}

// Begin moves the state into the analyzing phase for the given file.
// Any previous results or error are dropped.
func (s *UploadState) Begin(name string, size int64) error {
	if s.Analyzing {
		return ErrAnalysisInProgress
	}
	*s = UploadState{FileName: name, FileSize: size, Analyzing: true}
	return nil
}

// Succeed finishes an analysis with the mapped dashboard.
func (s *UploadState) Succeed(d *Dashboard) {
	s.Analyzing = false
	s.Error = ""
	s.Dashboard = d
	s.ShowResults = d != nil
}

// Fail finishes an analysis, or rejects a file, with a user-facing message.
func (s *UploadState) Fail(msg string) {
	s.Analyzing = false
	s.ShowResults = false
	s.Dashboard = nil
	s.Error = msg
}

// Reject records a rejected file without disturbing an analysis in flight.
func (s *UploadState) Reject(msg string) error {
	if s.Analyzing {
		return ErrAnalysisInProgress
	}
	s.Fail(msg)
	return nil
}

// Reset returns to the idle upload screen. It is a no-op while analyzing.
func (s *UploadState) Reset() {
	if s.Analyzing {
		return
	}
	*s = UploadState{}
}

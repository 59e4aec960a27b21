package session

import "fmt"

// Confidence grades a detection. Populated for future use; nothing consumes
// it today.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// DetectionResult maps raw tmux signals to a target state. Ephemeral, never
// persisted; callers own the actual transition.
type DetectionResult struct {
	State        State
	Confidence   Confidence
	ExitCode     *int
	ErrorMessage string
}

// PaneInspector is the slice of the tmux client state detection needs.
type PaneInspector interface {
	Exists(name string) bool
	IsPaneDead(name string) bool
	PaneExitStatus(name string) (int, bool)
}

// Detect derives a session's state from its tmux session. Pure with respect
// to session records: it reads tmux and nothing else.
//
// A missing tmux session means the process exited and the pane was reaped,
// the common graceful-exit case. A dead pane with a nonzero exit code is a
// failure; zero or absent codes complete normally. Paused and killed are
// user-action states never produced here.
func Detect(inspector PaneInspector, tmuxName string) DetectionResult {
	if !inspector.Exists(tmuxName) {
		return DetectionResult{State: StateCompleted, Confidence: ConfidenceHigh}
	}

	if inspector.IsPaneDead(tmuxName) {
		code, ok := inspector.PaneExitStatus(tmuxName)
		if ok && code != 0 {
			return DetectionResult{
				State:        StateFailed,
				Confidence:   ConfidenceHigh,
				ExitCode:     &code,
				ErrorMessage: fmt.Sprintf("Process exited with code %d", code),
			}
		}
		if ok {
			return DetectionResult{State: StateCompleted, Confidence: ConfidenceHigh, ExitCode: &code}
		}
		return DetectionResult{State: StateCompleted, Confidence: ConfidenceHigh}
	}

	return DetectionResult{State: StateRunning, Confidence: ConfidenceMedium}
}

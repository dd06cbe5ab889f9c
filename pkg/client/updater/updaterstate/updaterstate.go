// Package updaterstate contains the diagnostic history the updater keeps in its internal directory.
package updaterstate

import (
	"time"
)

// MaxAttempts bounds the number of attempts kept in the history.
const MaxAttempts = 20

// Attempt is the outcome of a single update call.
type Attempt struct {
	CurrentVersion string    `json:"current_version"`
	TargetVersion  string    `json:"target_version,omitempty"`
	State          string    `json:"state"`
	Error          string    `json:"error,omitempty"`
	Started        time.Time `json:"started"`
	Finished       time.Time `json:"finished"`
}

// Succeeded reports whether the attempt ended without an error.
func (a Attempt) Succeeded() bool {
	return a.Error == ""
}

// State represents the persisted state of the updater.
type State struct {
	Attempts []Attempt `json:"attempts"`
}

// Record appends an attempt, dropping the oldest entries beyond MaxAttempts.
func (s *State) Record(a Attempt) {
	s.Attempts = append(s.Attempts, a)
	if n := len(s.Attempts); n > MaxAttempts {
		s.Attempts = append([]Attempt(nil), s.Attempts[n-MaxAttempts:]...)
	}
}

// Last returns the most recent attempt.
func (s *State) Last() (Attempt, bool) {
	if len(s.Attempts) == 0 {
		return Attempt{}, false
	}
	return s.Attempts[len(s.Attempts)-1], true
}

// ConsecutiveFailures counts the failed attempts since the last successful one.
func (s *State) ConsecutiveFailures() int {
	n := 0
	for i := len(s.Attempts) - 1; i >= 0 && !s.Attempts[i].Succeeded(); i-- {
		n++
	}
	return n
}

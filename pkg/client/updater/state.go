package updater

import "fmt"

// State is a step of an update attempt.
type State int

const (
	Idle State = iota
	FetchManifest
	StageFiles
	BackupExisting
	Commit
	ApplyDeletes
	ApplyFirmware
	PersistVersion
	Done
	Aborted
)

var stateNames = [...]string{
	Idle:           "Idle",
	FetchManifest:  "FetchManifest",
	StageFiles:     "StageFiles",
	BackupExisting: "BackupExisting",
	Commit:         "Commit",
	ApplyDeletes:   "ApplyDeletes",
	ApplyFirmware:  "ApplyFirmware",
	PersistVersion: "PersistVersion",
	Done:           "Done",
	Aborted:        "Aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Result summarizes an update attempt.
type Result struct {
	// State is Done or Aborted.
	State State
	// FailedState is the step that aborted the attempt.
	FailedState State
	// PreviousVersion was installed when the attempt started.
	PreviousVersion string
	// TargetVersion is the version offered by the server, it is empty if there was no update.
	TargetVersion string
	// Version is installed after the attempt, it only differs from PreviousVersion if State is Done.
	Version string
	// Updated is false if the server had no update.
	Updated bool
	// Committed lists the device paths of files that were replaced or created.
	Committed []string
	// Deleted lists the device paths that were moved to their delete backup.
	Deleted []string
	// Attempts maps the device path of each staged file to the number of download attempts it took.
	Attempts        map[string]uint
	FirmwareApplied bool
	BytesDownloaded uint64
}

func (r *Result) enter(s State) {
	r.State = s
}

func (r *Result) abort() {
	r.FailedState = r.State
	r.State = Aborted
}

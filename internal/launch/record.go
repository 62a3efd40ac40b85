package launch

import "errors"

var (
	// ErrConfigurationUnavailable is reported when the persisted record document
	// is missing or unreadable. The store proceeds with zero records.
	ErrConfigurationUnavailable = errors.New("launch configuration unavailable")
	// ErrConfigurationPersistFailure is reported when ReplaceAll could not write
	// the document. The in-memory records remain authoritative for the session.
	ErrConfigurationPersistFailure = errors.New("launch configuration could not be saved")
)

// Record is one configured executable together with its start/stop policy.
// A record has no identity beyond its position in the ordered list.
type Record struct {
	Path            string `json:"path" mapstructure:"path"`
	ShutdownEnabled bool   `json:"shutdown_enabled" mapstructure:"shutdown_enabled"`
	StartMinimized  bool   `json:"start_minimized" mapstructure:"start_minimized"`
}

// Actionable reports whether the record names something to launch. Any
// non-empty path qualifies; the OS decides whether it can be started.
func (r Record) Actionable() bool { return r.Path != "" }

// Document is the persisted form: a single "executables" array.
type Document struct {
	Executables []Record `json:"executables" mapstructure:"executables"`
}

// Persister loads and saves the ordered record list.
type Persister interface {
	Load() ([]Record, error)
	Save(records []Record) error
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return []Record{}
	}
	out := make([]Record, len(in))
	copy(out, in)
	return out
}

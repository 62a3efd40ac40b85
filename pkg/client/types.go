package client

import "time"

// Record is one launch record as served by the HTTP API.
type Record struct {
	Path            string `json:"path"`
	ShutdownEnabled bool   `json:"shutdown_enabled"`
	StartMinimized  bool   `json:"start_minimized"`
}

// Document is the body of GET/PUT {base}/records.
type Document struct {
	Executables []Record `json:"executables"`
}

// ReplaceResponse is returned by PUT {base}/records. Warning is set when the
// new records are live but could not be written to disk.
type ReplaceResponse struct {
	OK      bool   `json:"ok"`
	Count   int    `json:"count"`
	Warning string `json:"warning,omitempty"`
}

// ProcessStatus represents one tracked child
type ProcessStatus struct {
	ID              string    `json:"id"`
	PID             int       `json:"pid"`
	Path            string    `json:"path"`
	OriginIndex     int       `json:"origin_index"`
	ShutdownEnabled bool      `json:"shutdown_enabled"`
	StartedAt       time.Time `json:"started_at"`
	Alive           bool      `json:"alive"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath  string
	RecordsPath string // overrides the config's records path
	// Remote launcher connection; when set, records commands edit the
	// running launcher instead of the file.
	APIUrl     string
	APITimeout time.Duration
}

type RunFlags struct {
	Listen   string
	BasePath string
	Metrics  bool
}

type AddFlags struct {
	Path      string
	Shutdown  bool
	Minimized bool
}

type RemoveFlags struct {
	Index int
}

type ListFlags struct {
	JSON bool
}

type HistoryFlags struct {
	DSN     string // defaults to the first configured history DSN
	Session string // when set, print the session's event count
	Limit   int
	JSON    bool
}

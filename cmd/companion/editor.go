package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/loykin/companion"
	"github.com/loykin/companion/internal/launch"
	"github.com/loykin/companion/pkg/client"
)

// recordEditor reads and replaces launch records either in the records file
// or in a running launcher over its HTTP API.
type recordEditor interface {
	Records() ([]companion.Record, error)
	// Replace returns a non-empty warning when the records are live but not persisted.
	Replace(recs []companion.Record) (warning string, err error)
	Where() string
	Close() error
}

func openEditor(g GlobalFlags) (recordEditor, error) {
	if g.APIUrl != "" {
		return &apiEditor{c: newAPIClient(g)}, nil
	}
	c, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	return openFileEditor(c.Records)
}

func newAPIClient(g GlobalFlags) *client.Client {
	return client.New(client.Config{BaseURL: g.APIUrl, Timeout: g.APITimeout})
}

// fileEditor edits the records document directly. Unlike the launcher, it
// refuses to start from an unreadable file: saving would replace it.
type fileEditor struct {
	store *launch.FileStore
	path  string
	recs  []companion.Record
}

func openFileEditor(path string) (*fileEditor, error) {
	e := &fileEditor{store: launch.NewFileStore(path), path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return e, nil
	}
	recs, err := e.store.Load()
	if err != nil {
		return nil, fmt.Errorf("refusing to edit unreadable records file %s: %w", path, err)
	}
	e.recs = recs
	return e, nil
}

func (e *fileEditor) Records() ([]companion.Record, error) {
	return append([]companion.Record{}, e.recs...), nil
}

func (e *fileEditor) Where() string { return e.path }
func (e *fileEditor) Close() error  { return nil }

// Replace fails on a persist error; the file is the only copy here.
func (e *fileEditor) Replace(recs []companion.Record) (string, error) {
	if err := e.store.Save(recs); err != nil {
		return "", err
	}
	e.recs = append([]companion.Record{}, recs...)
	return "", nil
}

type apiEditor struct {
	c *client.Client
}

func (e *apiEditor) Where() string { return e.c.BaseURL() }
func (e *apiEditor) Close() error  { return nil }

func (e *apiEditor) Records() ([]companion.Record, error) {
	recs, err := e.c.Records(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]companion.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, companion.Record{Path: r.Path, ShutdownEnabled: r.ShutdownEnabled, StartMinimized: r.StartMinimized})
	}
	return out, nil
}

func (e *apiEditor) Replace(recs []companion.Record) (string, error) {
	in := make([]client.Record, 0, len(recs))
	for _, r := range recs {
		in = append(in, client.Record{Path: r.Path, ShutdownEnabled: r.ShutdownEnabled, StartMinimized: r.StartMinimized})
	}
	resp, err := e.c.ReplaceRecords(context.Background(), in)
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", errors.New("launcher rejected the records")
	}
	return resp.Warning, nil
}

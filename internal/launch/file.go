package launch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// FileStore persists records as a JSON document at Path.
//
// Saves are done the safe way: the new document is written to Path+".tmp",
// the current file (if any) is moved to Path+".bak", then the tmp file is
// renamed into place.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

// Load reads the document. Fields absent from an element default to their
// zero values ("" for path, false for the flags).
func (f *FileStore) Load() ([]Record, error) {
	if f.Path == "" {
		return nil, errors.New("records path not set")
	}
	v := viper.New()
	v.SetConfigFile(filepath.Clean(f.Path))
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, err
	}
	return cloneRecords(doc.Executables), nil
}

func (f *FileStore) Save(records []Record) error {
	if f.Path == "" {
		return errors.New("records path not set")
	}
	path := filepath.Clean(f.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(Document{Executables: cloneRecords(records)}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// MemoryStore keeps the document in memory. Useful for embedding and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	// LoadErr and SaveErr, when set, are returned by Load and Save.
	LoadErr error
	SaveErr error
}

func NewMemoryStore(records ...Record) *MemoryStore {
	return &MemoryStore{records: cloneRecords(records)}
}

func (m *MemoryStore) Load() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return cloneRecords(m.records), nil
}

func (m *MemoryStore) Save(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.records = cloneRecords(records)
	return nil
}

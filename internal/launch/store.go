package launch

import (
	"fmt"
	"log/slog"
	"sync"
)

// Store owns the ordered launch records for a session. It is loaded once and
// replaced wholesale by the configuration surface; the lifecycle manager only
// reads it.
type Store struct {
	mu        sync.RWMutex
	records   []Record
	persister Persister
	log       *slog.Logger
}

// NewStore returns an empty store backed by p. A nil persister keeps records in memory only.
func NewStore(p Persister, log *slog.Logger) *Store {
	if p == nil {
		p = NewMemoryStore()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{records: []Record{}, persister: p, log: log}
}

// Load replaces the in-memory records with the persisted ones. When the
// document is missing or unreadable the store is left with zero records and
// an error wrapping ErrConfigurationUnavailable is returned for information.
func (s *Store) Load() error {
	recs, err := s.persister.Load()
	if err != nil {
		s.mu.Lock()
		s.records = []Record{}
		s.mu.Unlock()
		s.log.Warn("launch records unavailable, starting with none", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
	}
	s.mu.Lock()
	s.records = cloneRecords(recs)
	n := len(s.records)
	s.mu.Unlock()
	s.log.Info("launch records loaded", slog.Int("count", n))
	return nil
}

// GetAll returns a copy of the records in order.
func (s *Store) GetAll() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.records)
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ReplaceAll swaps in records and persists them. The in-memory replacement
// always happens; a persist error wraps ErrConfigurationPersistFailure.
func (s *Store) ReplaceAll(records []Record) error {
	next := cloneRecords(records)
	s.mu.Lock()
	s.records = next
	s.mu.Unlock()

	if err := s.persister.Save(cloneRecords(next)); err != nil {
		s.log.Warn("failed to save launch records", slog.Int("count", len(next)), slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrConfigurationPersistFailure, err)
	}
	s.log.Info("launch records saved", slog.Int("count", len(next)))
	return nil
}

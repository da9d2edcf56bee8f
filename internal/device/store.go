package device

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store is the in-memory map of device records.
//
// Each facet is last-write-wins. Records are created by the first Upsert
// for an ID and destroyed only by Remove; there is no expiry.
//
// All public methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
	logger  Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		now:     time.Now,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Upsert records facet f for device id, creating the record if needed.
// It reports whether the facet's value differs from what was stored.
// A nil facet or empty id is ignored.
func (s *Store) Upsert(id string, f Facet) (changed bool) {
	if id == "" || f == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r, ok := s.records[id]
	if !ok {
		r = &Record{ID: id, FirstSeen: now}
		s.records[id] = r
		s.logger.Debug("device record created", "device_id", id, "facet", f.Kind())
	}

	changed = f.apply(r, now) || !ok
	r.LastUpdate = now
	return changed
}

// Remove deletes the record for id. Removing an unknown id is a no-op.
// It reports whether a record existed.
func (s *Store) Remove(id string) (existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed = s.records[id]; existed {
		delete(s.records, id)
		s.logger.Debug("device record removed", "device_id", id)
	}
	return existed
}

// Get returns a copy of the record for id.
// A device that has not reported anything is ok == false, not an error.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return r.DeepCopy(), true
}

// Snapshot returns a deep copy of every record. The copy is taken under a
// single lock, so it reflects one state the store was actually in.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make(map[string]Record, len(s.records))
	for id, r := range s.records {
		devices[id] = r.DeepCopy()
	}
	return Snapshot{Devices: devices, TakenAt: s.now()}
}

// Len returns the number of device records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

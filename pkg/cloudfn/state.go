package cloudfn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// RecordStore persists janitor tracking records.
type RecordStore interface {
	// Put creates or replaces a record.
	Put(ctx context.Context, rec JanitorRecord) error

	// Get retrieves a record by key.
	Get(ctx context.Context, key RecordKey) (*JanitorRecord, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, key RecordKey) error

	// List returns stored records matching the filter.
	List(ctx context.Context, filter ListFilter) ([]JanitorRecord, error)
}

// ListFilter filters records returned by List.
type ListFilter struct {
	// StackName limits results to one stack name.
	StackName string
	// ExpiredBefore limits results to records expiring before this time.
	ExpiredBefore time.Time
	Limit         int
	Offset        int
}

// Match reports whether rec passes the filter's predicates.
func (f ListFilter) Match(rec JanitorRecord) bool {
	if f.StackName != "" && rec.StackName != f.StackName {
		return false
	}
	if !f.ExpiredBefore.IsZero() && rec.ExpirationTime >= f.ExpiredBefore.Unix() {
		return false
	}
	return true
}

// Paginate sorts records by expiration then key and applies Offset and Limit.
func (f ListFilter) Paginate(recs []JanitorRecord) []JanitorRecord {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ExpirationTime != recs[j].ExpirationTime {
			return recs[i].ExpirationTime < recs[j].ExpirationTime
		}
		return recs[i].Key().String() < recs[j].Key().String()
	})
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return nil
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}

// StateStoreVersion is the current schema version for the record file.
const StateStoreVersion = 1

// StateData is the serializable state format.
type StateData struct {
	Version   int                      `json:"version"`
	Records   map[string]JanitorRecord `json:"records"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func newStateData() StateData {
	return StateData{
		Version:   StateStoreVersion,
		Records:   make(map[string]JanitorRecord),
		UpdatedAt: time.Now(),
	}
}

func (s *StateData) list(filter ListFilter) []JanitorRecord {
	var recs []JanitorRecord
	for _, rec := range s.Records {
		if filter.Match(rec) {
			recs = append(recs, rec)
		}
	}
	return filter.Paginate(recs)
}

// MemoryRecordStore is an in-memory RecordStore implementation for testing.
type MemoryRecordStore struct {
	mu    sync.RWMutex
	state StateData
}

// NewMemoryRecordStore creates a new in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{state: newStateData()}
}

// Put implements RecordStore.
func (s *MemoryRecordStore) Put(ctx context.Context, rec JanitorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Records[rec.Key().String()] = rec
	s.state.UpdatedAt = time.Now()
	return nil
}

// Get implements RecordStore.
func (s *MemoryRecordStore) Get(ctx context.Context, key RecordKey) (*JanitorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.state.Records[key.String()]
	if !exists {
		return nil, ErrNotFound("record", key.String())
	}
	return &rec, nil
}

// Delete implements RecordStore.
func (s *MemoryRecordStore) Delete(ctx context.Context, key RecordKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.Records[key.String()]; !exists {
		return nil
	}

	delete(s.state.Records, key.String())
	s.state.UpdatedAt = time.Now()
	return nil
}

// List implements RecordStore.
func (s *MemoryRecordStore) List(ctx context.Context, filter ListFilter) ([]JanitorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.list(filter), nil
}


// FileRecordStore is a file-based RecordStore for running the janitor locally.
type FileRecordStore struct {
	mu       sync.RWMutex
	filePath string
	state    StateData
}

// NewFileRecordStore creates a new file-based record store.
// If the file exists, it loads the existing state.
func NewFileRecordStore(filePath string) (*FileRecordStore, error) {
	s := &FileRecordStore{
		filePath: filePath,
		state:    newStateData(),
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	return s, nil
}

// Path returns the backing file path.
func (s *FileRecordStore) Path() string {
	return s.filePath
}

func (s *FileRecordStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var state StateData
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("invalid state file format: %w", err)
	}

	if state.Version > StateStoreVersion {
		return fmt.Errorf("state file version %d is newer than supported version %d", state.Version, StateStoreVersion)
	}
	state.Version = StateStoreVersion

	if state.Records == nil {
		state.Records = make(map[string]JanitorRecord)
	}

	s.state = state
	return nil
}

// save writes state to file atomically.
func (s *FileRecordStore) save() error {
	s.state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

// Put implements RecordStore. A failed write leaves the store unchanged.
func (s *FileRecordStore) Put(ctx context.Context, rec JanitorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key().String()
	restore := s.snapshot(key)
	s.state.Records[key] = rec
	if err := s.save(); err != nil {
		restore()
		return err
	}
	return nil
}

// snapshot returns a func that puts the record under key, and the update
// time, back to their current state.
func (s *FileRecordStore) snapshot(key string) func() {
	prev, had := s.state.Records[key]
	updatedAt := s.state.UpdatedAt
	return func() {
		if had {
			s.state.Records[key] = prev
		} else {
			delete(s.state.Records, key)
		}
		s.state.UpdatedAt = updatedAt
	}
}

// Get implements RecordStore.
func (s *FileRecordStore) Get(ctx context.Context, key RecordKey) (*JanitorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.state.Records[key.String()]
	if !exists {
		return nil, ErrNotFound("record", key.String())
	}
	return &rec, nil
}

// Delete implements RecordStore.
func (s *FileRecordStore) Delete(ctx context.Context, key RecordKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if _, exists := s.state.Records[k]; !exists {
		return nil
	}

	restore := s.snapshot(k)
	delete(s.state.Records, k)
	if err := s.save(); err != nil {
		restore()
		return err
	}
	return nil
}

// List implements RecordStore.
func (s *FileRecordStore) List(ctx context.Context, filter ListFilter) ([]JanitorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.list(filter), nil
}


// DefaultStateStorePath returns the default path for the record file.
func DefaultStateStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cloud-functions", "records.json")
}

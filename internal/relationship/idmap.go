package relationship

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"forcebackup/internal/errors"
)

// IDMap tracks source-org record IDs against the IDs the target org
// assigned during a restore. Safe for concurrent use.
type IDMap struct {
	object string

	mu      sync.RWMutex
	entries map[string]string
}

// NewIDMap creates an empty mapping for one object.
func NewIDMap(object string) *IDMap {
	return &IDMap{
		object:  object,
		entries: make(map[string]string),
	}
}

// Object returns the object the mapping belongs to.
func (m *IDMap) Object() string {
	return m.object
}

// Add records a source-to-target ID pair.
func (m *IDMap) Add(sourceID, targetID string) {
	if sourceID == "" || targetID == "" {
		return
	}
	m.mu.Lock()
	m.entries[sourceID] = targetID
	m.mu.Unlock()
}

// Lookup returns the target ID for a source ID.
func (m *IDMap) Lookup(sourceID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	targetID, ok := m.entries[sourceID]
	return targetID, ok
}

// Len returns the number of recorded pairs.
func (m *IDMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func idMapFileName(object string) string {
	return fmt.Sprintf("idmap_%s.json", object)
}

// Save writes the mapping as a sidecar file next to the backup data so a
// later restore against the same target can reuse it.
func (m *IDMap) Save(dir string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.entries, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return errors.NewAppError(errors.ErrorTypeUnknown, "failed to encode ID mapping", err)
	}

	path := filepath.Join(dir, idMapFileName(m.object))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("failed to write ID mapping to %s", path), err)
	}
	return nil
}

// LoadIDMap reads a previously saved mapping. A missing file yields an
// empty mapping, not an error.
func LoadIDMap(dir, object string) (*IDMap, error) {
	m := NewIDMap(object)

	path := filepath.Join(dir, idMapFileName(object))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("failed to read ID mapping %s", path), err)
	}

	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("ID mapping %s is not valid JSON", path), err)
	}
	return m, nil
}

// MappingStore hands out per-object ID maps for a restore run and persists
// them together.
type MappingStore struct {
	dir string

	mu   sync.Mutex
	maps map[string]*IDMap
}

// NewMappingStore creates a store rooted at the backup directory.
func NewMappingStore(dir string) *MappingStore {
	return &MappingStore{
		dir:  dir,
		maps: make(map[string]*IDMap),
	}
}

// Get returns the mapping for an object, loading a saved sidecar on first
// access.
func (s *MappingStore) Get(object string) (*IDMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.maps[object]; ok {
		return m, nil
	}
	m, err := LoadIDMap(s.dir, object)
	if err != nil {
		return nil, err
	}
	s.maps[object] = m
	return m, nil
}

// SaveAll persists every mapping touched during the run.
func (s *MappingStore) SaveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.maps {
		if m.Len() == 0 {
			continue
		}
		if err := m.Save(s.dir); err != nil {
			return err
		}
	}
	return nil
}

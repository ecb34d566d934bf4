package tags

import (
	"fmt"
	"sync"
)

// Memory is an in-memory Adapter used by tests: files are tag maps keyed
// by path, with no real I/O.
type Memory struct {
	mu    sync.Mutex
	files map[string]map[string][]string
}

// NewMemory returns an adapter pre-populated with the given files. The
// tag maps may be nil for files with no tags.
func NewMemory(files map[string]map[string][]string) *Memory {
	m := &Memory{files: make(map[string]map[string][]string, len(files))}
	for path, t := range files {
		if t == nil {
			t = map[string][]string{}
		}
		m.files[path] = t
	}
	return m
}

// Add creates a file with the given tags.
func (m *Memory) Add(path string, t map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		t = map[string][]string{}
	}
	m.files[path] = t
}

// Remove deletes a file.
func (m *Memory) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

func (m *Memory) ReadTags(path string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("read tags from %s: file does not exist", path)
	}
	out := make(map[string][]string, len(t))
	for k, v := range t {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

func (m *Memory) WriteTags(path string, t map[string][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.files[path]
	if !ok {
		return fmt.Errorf("write tags to %s: file does not exist", path)
	}
	for k, v := range t {
		existing[k] = append([]string(nil), v...)
	}
	return nil
}

func (m *Memory) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *Memory) Move(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.files[from]
	if !ok {
		return fmt.Errorf("move %s: file does not exist", from)
	}
	delete(m.files, from)
	m.files[to] = t
	return nil
}

package service

import (
	"sync"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
)

// ConflictDetector tracks the files claimed by running tasks.
// Tasks with equal scopes have no dependency edge but must not overlap in time.
type ConflictDetector struct {
	active map[string]string // file -> task id
	mu     sync.RWMutex
}

// NewConflictDetector creates an empty detector
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{active: make(map[string]string)}
}

// HasConflict reports whether any file of t is claimed by another task
func (d *ConflictDetector) HasConflict(t workstream.Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, f := range t.FileScope {
		if owner, ok := d.active[f]; ok && owner != t.ID {
			return true
		}
	}
	return false
}

// Register claims the files of t
func (d *ConflictDetector) Register(t workstream.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range t.FileScope {
		d.active[f] = t.ID
	}
}

// Unregister releases the files claimed by t
func (d *ConflictDetector) Unregister(t workstream.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range t.FileScope {
		if owner, ok := d.active[f]; ok && owner == t.ID {
			delete(d.active, f)
		}
	}
}

// Owner returns the task holding file, or ""
func (d *ConflictDetector) Owner(file string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active[file]
}

// ActiveFileCount returns the number of claimed files
func (d *ConflictDetector) ActiveFileCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.active)
}

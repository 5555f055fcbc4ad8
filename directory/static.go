package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var _ Client = new(StaticDirectory)

// StaticDirectory serves entries from memory. Used for development and
// tests; seeded from a config file or programmatically.
type StaticDirectory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewStaticDirectory(entries []Entry) *StaticDirectory {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.UserId] = e
	}
	return &StaticDirectory{entries: m}
}

func (d *StaticDirectory) Add(e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[e.UserId] = e
}

func (d *StaticDirectory) Resolve(ctx context.Context, userId string) (*Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[userId]
	if !ok {
		return nil, fmt.Errorf("user %s not found in directory", userId)
	}
	return &e, nil
}

func (d *StaticDirectory) FindByRole(ctx context.Context, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, e := range d.entries {
		if e.Role == role && e.Active {
			out = append(out, e.UserId)
		}
	}
	sort.Strings(out)
	return out, nil
}

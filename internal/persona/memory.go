package persona

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// #region memory-store
// MemoryStore is an in-process Store, used by replay fixtures and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string][]*Profile // tenant -> profiles
}

// NewMemoryStore returns a store seeded with the given profiles.
func NewMemoryStore(profiles ...*Profile) *MemoryStore {
	m := &MemoryStore{profiles: map[string][]*Profile{}}
	for _, p := range profiles {
		m.Put(p)
	}
	return m
}

// Put adds or replaces a profile by id within its tenant.
func (m *MemoryStore) Put(p *Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.profiles[p.TenantID]
	for i, existing := range list {
		if existing.ID == p.ID {
			list[i] = p
			return
		}
	}
	m.profiles[p.TenantID] = append(list, p)
}

// Lookup implements Store. An id match wins over a name match.
func (m *MemoryStore) Lookup(_ context.Context, tenantID, ref string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var byName *Profile
	for _, p := range m.profiles[tenantID] {
		if p.ID == ref {
			return p, nil
		}
		if byName == nil && p.Name == ref {
			byName = p
		}
	}
	if byName != nil {
		return byName, nil
	}
	return nil, ErrNotFound
}

// #endregion memory-store

// #region yaml-loader
// File is the root of a persona seed file.
type File struct {
	Personas []*Profile `yaml:"personas"`
}

// LoadYAML reads persona profiles from a YAML seed file.
func LoadYAML(path string) ([]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas %s: %w", path, err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a persona seed document and checks required fields.
func ParseYAML(data []byte) ([]*Profile, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	for i, p := range f.Personas {
		if p == nil || p.Name == "" || p.TenantID == "" {
			return nil, fmt.Errorf("persona %d: name and tenant_id are required", i)
		}
	}
	return f.Personas, nil
}

// #endregion yaml-loader

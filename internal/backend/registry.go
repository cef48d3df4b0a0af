package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/seantiz/coderun/pkg/model"
)

// BackendInfo pairs a backend name with its capabilities.
type BackendInfo struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered backends and resolves which one runs a given
// language. When two backends claim the same language, the later
// registration wins.
type Registry struct {
	mu         sync.RWMutex
	backends   map[string]Backend
	byLanguage map[string]string
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends:   make(map[string]Backend),
		byLanguage: make(map[string]string),
	}
}

// Register adds a backend to the registry under the given name.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.backends[name]; ok {
		for _, l := range old.Capabilities().Languages {
			key := strings.ToLower(l.ID)
			if r.byLanguage[key] == name {
				delete(r.byLanguage, key)
			}
		}
	}
	r.backends[name] = b
	for _, l := range b.Capabilities().Languages {
		r.byLanguage[strings.ToLower(l.ID)] = name
	}
}

// Resolve returns the backend serving language, matched case-insensitively.
func (r *Registry) Resolve(language string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byLanguage[strings.ToLower(language)]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q", language)
	}
	return r.backends[name], nil
}

// Languages returns every language offered by a registered backend, sorted
// by ID.
func (r *Registry) Languages() []model.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]model.Language, 0, len(r.byLanguage))
	for name, b := range r.backends {
		for _, l := range b.Capabilities().Languages {
			if r.byLanguage[strings.ToLower(l.ID)] == name {
				langs = append(langs, l)
			}
		}
	}
	sort.Slice(langs, func(i, j int) bool {
		return langs[i].ID < langs[j].ID
	})
	return langs
}

// List returns information about all registered backends, sorted by name
// for a stable API response.
func (r *Registry) List() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for name, b := range r.backends {
		infos = append(infos, BackendInfo{
			Name:         name,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

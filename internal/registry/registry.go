// Package registry is the supervisor's single source of truth for which
// worker agents exist and what they accept: a mutex-guarded in-memory map
// loaded from a static descriptor file, with a secondary index over
// normalized alias strings for lookup by friendly name.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Status is the agent's last known health.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// Descriptor is the immutable-after-load agent record.
type Descriptor struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	URL            string   `json:"url" yaml:"url"`
	Description    string   `json:"description" yaml:"description"`
	Capabilities   []string `json:"capabilities" yaml:"capabilities"`
	Keywords       []string `json:"keywords" yaml:"keywords"`
	RequiredParams []string `json:"required_params" yaml:"required_params"`
	Aliases        []string `json:"aliases" yaml:"aliases"`
	CustomEndpoint string   `json:"custom_endpoint" yaml:"custom_endpoint"` // overrides "/process" when set
	CustomTimeout  string   `json:"custom_timeout" yaml:"custom_timeout"`   // parseable duration; overrides the dispatcher default when set
}

// entry pairs an immutable descriptor with its mutable runtime health
// fields, kept apart so a Snapshot can be copied freely without dragging a
// mutex along with it.
type entry struct {
	desc Descriptor

	mu            sync.RWMutex
	status        Status
	lastCheckedAt time.Time
}

func (e *entry) snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{Descriptor: e.desc, Status: e.status, LastCheckedAt: e.lastCheckedAt}
}

// Snapshot is a read-only, concurrency-safe copy of an agent's current
// state, safe to hand to callers outside the registry's lock.
type Snapshot struct {
	Descriptor
	Status        Status
	LastCheckedAt time.Time
}

// Registry is the read-mostly agent directory. Reads take the RLock;
// writes (status updates) are rare, short, and never hold the lock during
// network I/O: the health prober and dispatcher call SetStatus only after
// their own I/O completes.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*entry
	byAlias map[string]string // alias (normalized) -> canonical id
}

// New builds an empty registry; call Load to populate it.
func New() *Registry {
	return &Registry{
		byID:    make(map[string]*entry),
		byAlias: make(map[string]string),
	}
}

// Load reads the descriptor file (JSON by default, YAML when the file
// extension says so) and (re)initializes the registry. Load is
// idempotent: calling it twice with the same file produces the same set
// of descriptors, each reset to StatusUnknown.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}

	var raw []Descriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: parsing %s: %w", path, err)
	}

	r := New()
	for _, d := range raw {
		e := &entry{desc: d, status: StatusUnknown}
		r.byID[d.ID] = e
		for _, alias := range d.Aliases {
			r.byAlias[Normalize(alias)] = d.ID
		}
		r.byAlias[Normalize(d.ID)] = d.ID
	}
	return r, nil
}

// Normalize canonicalizes an agent id or alias the same way regardless of
// separator style (hyphen vs underscore) or casing, so repeated
// normalization is the identity function.
func Normalize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		if r == '-' {
			r = '_'
		}
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}

// Get resolves an agent id or known alias to its descriptor snapshot.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical := id
	if _, ok := r.byID[canonical]; !ok {
		if resolved, ok2 := r.byAlias[Normalize(id)]; ok2 {
			canonical = resolved
		}
	}
	e, ok := r.byID[canonical]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Resolve normalizes id (a canonical id or a known alias) to its canonical
// registry id without returning the full descriptor.
func (r *Registry) Resolve(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byID[id]; ok {
		return id, true
	}
	if resolved, ok := r.byAlias[Normalize(id)]; ok {
		return resolved, true
	}
	return "", false
}

// List enumerates every registered descriptor.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.snapshot())
	}
	return out
}

// SetStatus updates the cached health for an agent. Called by the health
// prober (after a probe completes) and the dispatcher (after a transport
// failure), never while holding a lock across network I/O.
func (r *Registry) SetStatus(id string, status Status) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.status = status
	e.lastCheckedAt = time.Now()
	e.mu.Unlock()
}

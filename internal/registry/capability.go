package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// CapabilityStore is the in-memory catalog of Capability (tool) records a
// Server declares at registration, keyed by id. It is deliberately
// separate from the Server Store: capabilities are looked up far more
// often than they are written (every enforcement-pipeline request reads
// one to classify sensitivity), so a plain mutex-guarded map is enough —
// only Server persistence needs to survive a restart, not the discovered
// tool list, which protocol adapters can always rediscover.
type CapabilityStore struct {
	mu    sync.RWMutex
	byID  map[string]Capability
}

// NewCapabilityStore returns an empty store.
func NewCapabilityStore() *CapabilityStore {
	return &CapabilityStore{byID: make(map[string]Capability)}
}

// Put inserts or replaces a Capability, assigning an id if absent.
func (s *CapabilityStore) Put(c Capability) Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = ulid.Make().String()
	}
	s.byID[c.ID] = c
	return c
}

// Get fetches a Capability by id.
func (s *CapabilityStore) Get(id string) (Capability, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	return c, ok
}

// SetSensitivity overwrites the stored Capability's sensitivity. Callers
// are expected to have already recorded the override via
// classifier.OverrideStore for the audit trail; this just keeps the
// registry's copy (returned by List/Get) in sync.
func (s *CapabilityStore) SetSensitivity(id string, level Sensitivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("registry: capability %s not found", id)
	}
	c.Sensitivity = level
	s.byID[id] = c
	return nil
}

// ByServer lists every Capability registered under serverID, name-sorted.
func (s *CapabilityStore) ByServer(serverID string) []Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Capability, 0)
	for _, c := range s.byID {
		if c.ServerID == serverID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns every known Capability, id-sorted for stable pagination.
func (s *CapabilityStore) List() []Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Capability, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteByServer removes every Capability belonging to serverID, e.g. on
// decommission or rediscovery.
func (s *CapabilityStore) DeleteByServer(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.byID {
		if c.ServerID == serverID {
			delete(s.byID, id)
		}
	}
}

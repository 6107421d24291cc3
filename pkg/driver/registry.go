package driver

import (
	"sort"
	"sync"
)

// Registry indexes domains by name and by VMID. It is self-locking;
// callers never hold the registry lock across domain operations.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Domain
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Domain),
	}
}

// Add registers a domain. The name must not be taken.
func (r *Registry) Add(vm *Domain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[vm.Name]; exists {
		return ErrDomainExists
	}
	r.byName[vm.Name] = vm
	return nil
}

// Remove drops a domain from the registry. Removing an unregistered
// domain is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// FindByName returns the domain with the given name, or nil.
func (r *Registry) FindByName(name string) *Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// FindByID returns the running domain with the given VMID, or nil.
// Inactive domains all carry the unassigned VMID and are never matched.
func (r *Registry) FindByID(id int64) *Domain {
	if id == vmidNone {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, vm := range r.byName {
		if vm.ID() == id {
			return vm
		}
	}
	return nil
}

// List returns all registered domains sorted by name.
func (r *Registry) List() []*Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	domains := make([]*Domain, 0, len(r.byName))
	for _, vm := range r.byName {
		domains = append(domains, vm)
	}
	sort.Slice(domains, func(i, j int) bool {
		return domains[i].Name < domains[j].Name
	})
	return domains
}

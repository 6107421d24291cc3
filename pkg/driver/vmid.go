package driver

import "sync"

// vmidNone marks a domain without an assigned VMID.
const vmidNone int64 = -1

// VMIDAllocator hands out process-wide, strictly increasing virtual
// machine identifiers. Identifiers are never reused, regardless of VM
// identity or restart history.
type VMIDAllocator struct {
	mu   sync.Mutex
	last int64
}

// Next allocates a fresh VMID. Safe for concurrent use.
func (a *VMIDAllocator) Next() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last++
	return a.last
}

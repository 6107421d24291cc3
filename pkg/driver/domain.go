package driver

import (
	"sync"

	"github.com/macvz/vzvmm/pkg/config"
	"github.com/macvz/vzvmm/pkg/vmm"
)

// Domain is the runtime object for one virtual machine. Its mutable
// fields (state, reason, id and the private runtime state) are guarded
// by mu; state and id are always updated together under it.
type Domain struct {
	// Name is immutable after registration.
	Name string
	// Def is the declarative definition the domain was created from.
	// Read-only to the driver.
	Def *config.Domain
	// Persistent domains survive destroy in the registry; transient
	// ones are removed.
	Persistent bool

	mu     sync.Mutex
	state  DomainState
	reason ShutoffReason
	id     int64

	priv domainPrivate
}

// domainPrivate is the per-domain runtime state which only exists while
// the domain is active: the live machine handle, the installed
// delegate, the started display servers and their private queue.
type domainPrivate struct {
	machine      vmm.Machine
	delegate     *machineDelegate
	displayQueue *vmm.Queue
	displays     []vmm.DisplayServer
}

func newDomain(def *config.Domain, persistent bool) *Domain {
	return &Domain{
		Name:       def.Name,
		Def:        def,
		Persistent: persistent,
		state:      DomainShutoff,
		reason:     ShutoffUnknown,
		id:         vmidNone,
	}
}

// State returns the current state and shutoff reason.
func (vm *Domain) State() (DomainState, ShutoffReason) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state, vm.reason
}

// ID returns the domain's VMID, or -1 when the domain is not running.
func (vm *Domain) ID() int64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.id
}

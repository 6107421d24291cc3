package driver

import "fmt"

// DomainState is the runtime state of one domain.
type DomainState int

const (
	// DomainShutoff is the initial state and the terminal state of
	// every run. A shutoff domain carries a ShutoffReason.
	DomainShutoff DomainState = iota
	// DomainStarting means a start operation is in flight.
	DomainStarting
	// DomainRunning means the guest is executing and the domain has
	// a VMID assigned.
	DomainRunning
	// DomainDestroying means a destroy operation is in flight.
	DomainDestroying
)

// String returns the string representation of the state.
func (s DomainState) String() string {
	switch s {
	case DomainShutoff:
		return "shutoff"
	case DomainStarting:
		return "starting"
	case DomainRunning:
		return "running"
	case DomainDestroying:
		return "destroying"
	default:
		return fmt.Sprintf("DomainState(%d)", s)
	}
}

// IsActive returns true when the domain holds a live machine handle.
func (s DomainState) IsActive() bool {
	return s == DomainStarting || s == DomainRunning || s == DomainDestroying
}

// ShutoffReason records why a domain went to DomainShutoff.
type ShutoffReason int

const (
	ShutoffUnknown ShutoffReason = iota
	// ShutoffDestroyed means an explicit destroy request stopped the
	// machine.
	ShutoffDestroyed
	// ShutoffGuestShutdown means the guest shut itself down.
	ShutoffGuestShutdown
	// ShutoffCrashed means the engine reported a fatal error.
	ShutoffCrashed
)

// String returns the string representation of the reason.
func (r ShutoffReason) String() string {
	switch r {
	case ShutoffUnknown:
		return "unknown"
	case ShutoffDestroyed:
		return "destroyed"
	case ShutoffGuestShutdown:
		return "guest shutdown"
	case ShutoffCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("ShutoffReason(%d)", r)
	}
}

// Package vmm defines the interface between the lifecycle driver and
// the hypervisor engine backing it. The production implementation in
// pkg/vf wraps the Virtualization framework; tests substitute fakes.
package vmm

import (
	"errors"

	"github.com/macvz/vzvmm/pkg/config"
)

// ErrTimeout is returned when a queued engine operation does not
// complete within the caller's configured wait.
var ErrTimeout = errors.New("timed out waiting for virtual machine operation")

// Configuration is the opaque, engine-native composite built by the
// engine from a domain definition. It is created once, validated once
// and consumed once by NewMachine; it is never mutated afterwards.
type Configuration interface{}

// Delegate receives engine-initiated machine events. Both callbacks may
// fire from arbitrary goroutines, possibly long after the caller which
// installed the delegate has moved on.
type Delegate interface {
	// GuestDidStop is invoked when the guest shuts the machine down
	// on its own.
	GuestDidStop()
	// DidStopWithError is invoked when the machine dies from an
	// engine-level error.
	DidStopWithError(err error)
}

// DisplayServer is a started remote display exporting the machine's
// graphics device, typically over VNC. It is an opaque collaborator:
// the driver only starts it once the machine runs and stops it on
// every path into shutoff.
type DisplayServer interface {
	Start() error
	Stop() error
}

// Machine is one live engine instance. Start and Stop follow the
// engine's asynchronous completion-callback protocol; the completion
// function is invoked exactly once, from the engine execution context.
// All Machine calls must be made from a single serialized queue.
type Machine interface {
	Start(complete func(error))
	Stop(complete func(error))
	// RequestStop asks the guest to shut down cooperatively. The
	// request itself can fail without affecting machine state.
	RequestStop() error
	SetDelegate(delegate Delegate)
	// NewDisplayServer creates (but does not start) a display server
	// for the given graphics device.
	NewDisplayServer(graphics *config.Graphics) (DisplayServer, error)
	// Release drops the delegate and the underlying engine handle.
	// The machine must not be used afterwards.
	Release()
}

// Engine compiles domain definitions and instantiates machines.
type Engine interface {
	// Prepare compiles the definition into a validated engine-native
	// configuration. Unsupported device models, resource setup
	// failures and composite validation failures all surface here,
	// before any machine exists.
	Prepare(dom *config.Domain) (Configuration, error)
	// NewMachine instantiates a machine from a prepared
	// configuration, bound to the engine execution queue.
	NewMachine(cfg Configuration) (Machine, error)
}

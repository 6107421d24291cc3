package vf

import (
	"fmt"
	"sync"

	"github.com/Code-Hex/vz/v3"
	log "github.com/sirupsen/logrus"

	"github.com/macvz/vzvmm/pkg/config"
	"github.com/macvz/vzvmm/pkg/vmm"
)

// Options are the host-side settings of the virtualization framework
// engine.
type Options struct {
	// NVRAMDir is where EFI variable stores are kept for domains which
	// do not name an explicit store path.
	NVRAMDir string
}

// Engine implements vmm.Engine on top of the macOS Virtualization
// framework.
type Engine struct {
	opts Options
}

// NewEngine creates the virtualization framework engine. It fails when
// the host is too old to run virtual machines.
func NewEngine(opts Options) (*Engine, error) {
	if err := vz.MacOSAvailable(13); err != nil {
		return nil, fmt.Errorf("virtualization is not available on this host: %w", err)
	}
	return &Engine{opts: opts}, nil
}

// Prepare translates and validates a domain definition. All translation
// errors surface here, before any virtual machine is instantiated.
func (e *Engine) Prepare(dom *config.Domain) (vmm.Configuration, error) {
	return e.ToVzVirtualMachineConfig(dom)
}

// NewMachine instantiates a virtual machine from a prepared
// configuration.
func (e *Engine) NewMachine(cfg vmm.Configuration) (vmm.Machine, error) {
	vzConfig, ok := cfg.(*vz.VirtualMachineConfiguration)
	if !ok {
		return nil, fmt.Errorf("unexpected machine configuration type: %T", cfg)
	}
	vzVM, err := vz.NewVirtualMachine(vzConfig)
	if err != nil {
		return nil, err
	}

	m := &machine{
		vm:   vzVM,
		done: make(chan struct{}),
	}
	go m.watchState()
	return m, nil
}

// machine adapts a vz.VirtualMachine to the vmm.Machine interface. The
// state change channel of the framework is watched on a dedicated
// goroutine and folded into the two delegate callbacks.
type machine struct {
	vm   *vz.VirtualMachine
	done chan struct{}

	mu       sync.Mutex
	delegate vmm.Delegate
	stopping bool
}

func (m *machine) Start(complete func(error)) {
	complete(m.vm.Start())
}

func (m *machine) Stop(complete func(error)) {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()
	complete(m.vm.Stop())
}

func (m *machine) RequestStop() error {
	ok, err := m.vm.RequestStop()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("the guest did not accept the stop request")
	}
	return nil
}

func (m *machine) SetDelegate(delegate vmm.Delegate) {
	m.mu.Lock()
	m.delegate = delegate
	m.mu.Unlock()
}

func (m *machine) NewDisplayServer(graphics *config.Graphics) (vmm.DisplayServer, error) {
	return newVNCServer(m.vm, graphics.Port)
}

func (m *machine) Release() {
	m.mu.Lock()
	m.delegate = nil
	m.mu.Unlock()
	close(m.done)
}

func (m *machine) watchState() {
	for {
		select {
		case <-m.done:
			return
		case newState := <-m.vm.StateChangedNotify():
			log.Debugf("virtual machine state changed: %s", newState)
			m.mu.Lock()
			delegate := m.delegate
			stopping := m.stopping
			m.mu.Unlock()
			if delegate == nil {
				continue
			}
			switch newState {
			case vz.VirtualMachineStateStopped:
				if stopping {
					// stop was requested through the driver, which
					// does its own teardown
					continue
				}
				delegate.GuestDidStop()
			case vz.VirtualMachineStateError:
				delegate.DidStopWithError(fmt.Errorf("the virtual machine entered the error state"))
			}
		}
	}
}

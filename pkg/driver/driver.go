package driver

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/macvz/vzvmm/pkg/config"
	"github.com/macvz/vzvmm/pkg/vmm"
)

// Config carries the host-side driver settings.
type Config struct {
	// Privileged is set when the driver runs in system mode, allowing
	// raw block device disks.
	Privileged bool
	// OperationTimeout bounds how long a caller blocks on an engine
	// start or stop operation. Zero waits forever, which mirrors the
	// engine's own contract: completion callbacks always fire
	// eventually unless the engine itself is wedged.
	OperationTimeout time.Duration
}

// Driver owns all process-wide virtualization state: the registry of
// domains, the VMID allocator and the single serialized queue through
// which every engine call is made. It is constructed once at process
// start and threaded through every operation; there are no package
// globals.
type Driver struct {
	cfg     Config
	engine  vmm.Engine
	queue   *vmm.Queue
	vmids   VMIDAllocator
	domains *Registry
}

// New creates a driver using the given engine.
func New(engine vmm.Engine, cfg Config) *Driver {
	return &Driver{
		cfg:     cfg,
		engine:  engine,
		queue:   vmm.NewQueue("vzvmm-engine"),
		domains: NewRegistry(),
	}
}

// Domains returns the domain registry.
func (d *Driver) Domains() *Registry {
	return d.domains
}

func (d *Driver) policy() *config.Policy {
	return &config.Policy{Privileged: d.cfg.Privileged}
}

// CreateAndStart registers a new domain from its definition and starts
// it. When the start fails, a transient domain is deregistered again so
// no partial state is left behind.
func (d *Driver) CreateAndStart(def *config.Domain, persistent bool) (*Domain, error) {
	if err := def.Validate(d.policy()); err != nil {
		return nil, err
	}

	vm := newDomain(def, persistent)
	if err := d.domains.Add(vm); err != nil {
		return nil, err
	}

	if err := d.startDomain(vm); err != nil {
		if !persistent {
			d.domains.Remove(vm.Name)
		}
		return nil, err
	}
	return vm, nil
}

// Start starts an already registered, shut off domain.
func (d *Driver) Start(name string) error {
	vm := d.domains.FindByName(name)
	if vm == nil {
		return fmt.Errorf("%w: %s", ErrDomainNotFound, name)
	}
	return d.startDomain(vm)
}

func (d *Driver) startDomain(vm *Domain) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state != DomainShutoff {
		return fmt.Errorf("%w: %s", ErrDomainActive, vm.Name)
	}

	if err := vm.Def.Validate(d.policy()); err != nil {
		return err
	}

	cfg, err := d.engine.Prepare(vm.Def)
	if err != nil {
		return fmt.Errorf("unsupported configuration for domain %s: %w", vm.Name, err)
	}

	machine, err := d.engine.NewMachine(cfg)
	if err != nil {
		return fmt.Errorf("failed to instantiate virtual machine for domain %s: %w", vm.Name, err)
	}

	vm.state = DomainStarting
	vm.priv.machine = machine
	vm.priv.delegate = &machineDelegate{driver: d, name: vm.Name}
	vm.priv.displayQueue = vmm.NewQueue(vm.Name + "-display")
	machine.SetDelegate(vm.priv.delegate)

	log.Infof("starting domain %s", vm.Name)
	if err := d.queue.Await(d.cfg.OperationTimeout, machine.Start); err != nil {
		d.teardown(vm, ShutoffUnknown, false)
		return fmt.Errorf("failed to start domain %s: %w", vm.Name, err)
	}

	vm.id = d.vmids.Next()
	vm.state = DomainRunning
	log.Infof("domain %s is running with id %d", vm.Name, vm.id)

	d.startDisplayServers(vm)

	return nil
}

// startDisplayServers starts one display server per graphics device on
// the domain's private queue, so display I/O never contends with
// lifecycle operations on the engine queue. Called with the domain lock
// held.
func (d *Driver) startDisplayServers(vm *Domain) {
	for _, graphics := range vm.Def.GraphicsDevices() {
		server, err := vm.priv.machine.NewDisplayServer(graphics)
		if err != nil {
			log.Warnf("cannot create display server for domain %s: %v", vm.Name, err)
			continue
		}
		vm.priv.displays = append(vm.priv.displays, server)
		port := graphics.Port
		vm.priv.displayQueue.Dispatch(func() {
			if err := server.Start(); err != nil {
				log.Warnf("cannot start display server on port %d for domain %s: %v", port, vm.Name, err)
				return
			}
			log.Infof("display server for domain %s listening on port %d", vm.Name, port)
		})
	}
}

// Shutdown asks the guest to shut down cooperatively. The request can
// fail without changing the domain state; the actual transition to
// shutoff happens later through the machine delegate, if the guest
// complies.
func (d *Driver) Shutdown(name string) error {
	vm := d.domains.FindByName(name)
	if vm == nil {
		return fmt.Errorf("%w: %s", ErrDomainNotFound, name)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state != DomainRunning {
		return fmt.Errorf("%w: %s", ErrDomainNotActive, vm.Name)
	}

	machine := vm.priv.machine
	var err error
	d.queue.DispatchSync(func() {
		err = machine.RequestStop()
	})
	if err != nil {
		return fmt.Errorf("failed to request shutdown of domain %s: %w", vm.Name, err)
	}
	return nil
}

// Destroy force-stops a running domain. The domain is moved to
// Shutoff(Destroyed) even when the engine-level stop reports an error;
// that error is still returned to the caller. Transient domains are
// removed from the registry.
func (d *Driver) Destroy(name string) error {
	vm := d.domains.FindByName(name)
	if vm == nil {
		return fmt.Errorf("%w: %s", ErrDomainNotFound, name)
	}

	vm.mu.Lock()
	if !vm.state.IsActive() {
		vm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDomainNotActive, vm.Name)
	}

	machine := vm.priv.machine
	vm.state = DomainDestroying
	log.Infof("destroying domain %s", vm.Name)

	stopErr := d.queue.Await(d.cfg.OperationTimeout, machine.Stop)
	if stopErr != nil {
		log.Errorf("engine stop of domain %s failed: %v", vm.Name, stopErr)
	}

	d.teardown(vm, ShutoffDestroyed, false)
	persistent := vm.Persistent
	vm.mu.Unlock()

	if !persistent {
		d.domains.Remove(vm.Name)
	}

	if stopErr != nil {
		return fmt.Errorf("failed to stop domain %s: %w", vm.Name, stopErr)
	}
	return nil
}

// handleMachineStop is the delegate entry point for engine-initiated
// stops. Events for domains which already left the registry, or which
// were already torn down, are no-ops.
func (d *Driver) handleMachineStop(name string, reason ShutoffReason) {
	vm := d.domains.FindByName(name)
	if vm == nil {
		log.Debugf("stop event for unknown domain %s ignored", name)
		return
	}
	d.teardown(vm, reason, true)
}

// teardown is the single routine through which every path into shutoff
// goes: explicit destroy, guest shutdown and engine errors. It stops
// the display servers, releases the machine handle and clears the VMID.
// Callers already holding the domain lock pass needLock=false to avoid
// self-deadlock.
func (d *Driver) teardown(vm *Domain, reason ShutoffReason, needLock bool) {
	if needLock {
		vm.mu.Lock()
		defer vm.mu.Unlock()
	}

	if vm.priv.machine == nil {
		// already torn down, e.g. a guest stop event racing a destroy
		return
	}

	for _, server := range vm.priv.displays {
		srv := server
		vm.priv.displayQueue.DispatchSync(func() {
			if err := srv.Stop(); err != nil {
				log.Warnf("cannot stop display server for domain %s: %v", vm.Name, err)
			}
		})
	}
	vm.priv.displayQueue.Close()

	vm.priv.machine.Release()
	vm.priv = domainPrivate{}

	vm.id = vmidNone
	vm.state = DomainShutoff
	vm.reason = reason
	log.Infof("domain %s is now shut off (%s)", vm.Name, reason)
}

package driver

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macvz/vzvmm/pkg/config"
	"github.com/macvz/vzvmm/pkg/vmm"
)

type fakeEngine struct {
	mu       sync.Mutex
	machines map[string]*fakeMachine

	prepareErr     error
	newMachineErr  error
	startErr       error
	stopErr        error
	requestStopErr error
	startHangs     bool
	startGate      chan struct{}
	displayErr     error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		machines: make(map[string]*fakeMachine),
	}
}

func (e *fakeEngine) Prepare(def *config.Domain) (vmm.Configuration, error) {
	if e.prepareErr != nil {
		return nil, e.prepareErr
	}
	return def, nil
}

func (e *fakeEngine) NewMachine(cfg vmm.Configuration) (vmm.Machine, error) {
	if e.newMachineErr != nil {
		return nil, e.newMachineErr
	}
	def := cfg.(*config.Domain)
	machine := &fakeMachine{
		startErr:       e.startErr,
		stopErr:        e.stopErr,
		requestStopErr: e.requestStopErr,
		startHangs:     e.startHangs,
		startGate:      e.startGate,
		displayErr:     e.displayErr,
	}
	e.mu.Lock()
	e.machines[def.Name] = machine
	e.mu.Unlock()
	return machine, nil
}

func (e *fakeEngine) machine(name string) *fakeMachine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machines[name]
}

type fakeMachine struct {
	mu           sync.Mutex
	delegate     vmm.Delegate
	started      bool
	stopped      bool
	released     bool
	requestStops int
	displays     []*fakeDisplayServer

	startErr       error
	stopErr        error
	requestStopErr error
	startHangs     bool
	startGate      chan struct{}
	displayErr     error
}

func (m *fakeMachine) Start(complete func(error)) {
	if m.startHangs {
		return
	}
	if m.startGate != nil {
		<-m.startGate
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	complete(m.startErr)
}

func (m *fakeMachine) Stop(complete func(error)) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	complete(m.stopErr)
}

func (m *fakeMachine) RequestStop() error {
	m.mu.Lock()
	m.requestStops++
	m.mu.Unlock()
	return m.requestStopErr
}

func (m *fakeMachine) SetDelegate(delegate vmm.Delegate) {
	m.mu.Lock()
	m.delegate = delegate
	m.mu.Unlock()
}

func (m *fakeMachine) NewDisplayServer(graphics *config.Graphics) (vmm.DisplayServer, error) {
	if m.displayErr != nil {
		return nil, m.displayErr
	}
	server := &fakeDisplayServer{port: graphics.Port}
	m.mu.Lock()
	m.displays = append(m.displays, server)
	m.mu.Unlock()
	return server, nil
}

func (m *fakeMachine) Release() {
	m.mu.Lock()
	m.released = true
	m.mu.Unlock()
}

func (m *fakeMachine) guestDidStop() {
	m.mu.Lock()
	delegate := m.delegate
	m.mu.Unlock()
	delegate.GuestDidStop()
}

func (m *fakeMachine) didStopWithError(err error) {
	m.mu.Lock()
	delegate := m.delegate
	m.mu.Unlock()
	delegate.DidStopWithError(err)
}

func (m *fakeMachine) wasReleased() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

func (m *fakeMachine) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestStops
}

type fakeDisplayServer struct {
	mu      sync.Mutex
	port    int
	started bool
	stopped bool
}

func (s *fakeDisplayServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeDisplayServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeDisplayServer) state() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

func testDomainDef(t *testing.T, name string) *config.Domain {
	t.Helper()
	bootloader := config.NewEFIBootloader("", true)
	return config.NewDomain(name, 2, 2*1024*1024, bootloader)
}

func testDriver(engine vmm.Engine) *Driver {
	return New(engine, Config{})
}

func requireState(t *testing.T, vm *Domain, state DomainState, reason ShutoffReason) {
	t.Helper()
	gotState, gotReason := vm.State()
	require.Equal(t, state, gotState)
	require.Equal(t, reason, gotReason)
}

func TestCreateAndStart(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), false)
	require.NoError(t, err)

	requireState(t, vm, DomainRunning, ShutoffUnknown)
	assert.Equal(t, int64(1), vm.ID())
	assert.Same(t, vm, driver.Domains().FindByName("vm1"))
	assert.Same(t, vm, driver.Domains().FindByID(1))
}

func TestVMIDsAreNeverReused(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	vm1, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)
	vm2, err := driver.CreateAndStart(testDomainDef(t, "vm2"), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), vm1.ID())
	assert.Equal(t, int64(2), vm2.ID())

	require.NoError(t, driver.Destroy("vm1"))
	assert.Equal(t, int64(-1), vm1.ID())

	require.NoError(t, driver.Start("vm1"))
	assert.Equal(t, int64(3), vm1.ID())
}

func TestCreateDuplicateName(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	_, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)
	_, err = driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.ErrorIs(t, err, ErrDomainExists)
}

func TestStartAlreadyRunning(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	_, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)
	require.ErrorIs(t, driver.Start("vm1"), ErrDomainActive)
}

func TestStartUnknownDomain(t *testing.T) {
	driver := testDriver(newFakeEngine())
	require.ErrorIs(t, driver.Start("missing"), ErrDomainNotFound)
}

func TestStartFailureLeavesNoPartialState(t *testing.T) {
	engine := newFakeEngine()
	engine.startErr = errors.New("start rejected")
	driver := testDriver(engine)

	_, err := driver.CreateAndStart(testDomainDef(t, "transient"), false)
	require.ErrorContains(t, err, "start rejected")
	assert.Nil(t, driver.Domains().FindByName("transient"))
	require.True(t, engine.machine("transient").wasReleased())

	vm, err := driver.CreateAndStart(testDomainDef(t, "persistent"), true)
	require.ErrorContains(t, err, "start rejected")
	require.Nil(t, vm)
	vm = driver.Domains().FindByName("persistent")
	require.NotNil(t, vm)
	requireState(t, vm, DomainShutoff, ShutoffUnknown)
	assert.Equal(t, int64(-1), vm.ID())
}

func TestStartPrepareFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.prepareErr = errors.New("no bootloader device")
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.ErrorContains(t, err, "unsupported configuration for domain vm1")
	require.Nil(t, vm)

	vm = driver.Domains().FindByName("vm1")
	require.NotNil(t, vm)
	requireState(t, vm, DomainShutoff, ShutoffUnknown)
	assert.Equal(t, int64(-1), vm.ID())
	// the engine was never asked to build a machine
	assert.Nil(t, engine.machine("vm1"))
}

func TestStartNewMachineFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.newMachineErr = errors.New("out of kernel resources")
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.ErrorContains(t, err, "failed to instantiate virtual machine for domain vm1")
	require.Nil(t, vm)

	vm = driver.Domains().FindByName("vm1")
	require.NotNil(t, vm)
	requireState(t, vm, DomainShutoff, ShutoffUnknown)
	assert.Equal(t, int64(-1), vm.ID())
	assert.Nil(t, engine.machine("vm1"))
}

func TestStartRejectsInvalidDefinition(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	def := testDomainDef(t, "vm1")
	dev, err := config.VirtioNetNew("")
	require.NoError(t, err)
	dev.Attachment = config.NetAttachmentBridge
	def.AddDevice(dev)

	_, err = driver.CreateAndStart(def, false)
	require.ErrorContains(t, err, "unsupported network type")
	// validation failed before any engine object was built
	assert.Nil(t, engine.machine("vm1"))
}

func TestDestroy(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)

	require.NoError(t, driver.Destroy("vm1"))
	requireState(t, vm, DomainShutoff, ShutoffDestroyed)
	assert.Equal(t, int64(-1), vm.ID())
	assert.True(t, engine.machine("vm1").wasReleased())
	assert.NotNil(t, driver.Domains().FindByName("vm1"))
}

func TestDestroyRemovesTransientDomain(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	_, err := driver.CreateAndStart(testDomainDef(t, "vm1"), false)
	require.NoError(t, err)

	require.NoError(t, driver.Destroy("vm1"))
	assert.Nil(t, driver.Domains().FindByName("vm1"))
}

func TestDestroyForcesShutoffOnStopError(t *testing.T) {
	engine := newFakeEngine()
	engine.stopErr = errors.New("stop failed")
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)

	err = driver.Destroy("vm1")
	require.ErrorContains(t, err, "stop failed")
	requireState(t, vm, DomainShutoff, ShutoffDestroyed)
	assert.Equal(t, int64(-1), vm.ID())
	assert.True(t, engine.machine("vm1").wasReleased())
}

func TestDestroyDuringStartWaitsForStart(t *testing.T) {
	engine := newFakeEngine()
	engine.startGate = make(chan struct{})
	driver := testDriver(engine)

	startDone := make(chan error, 1)
	go func() {
		_, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
		startDone <- err
	}()

	// wait until the start holds the domain lock and is blocked in the
	// engine, then issue the destroy
	require.Eventually(t, func() bool {
		return engine.machine("vm1") != nil
	}, time.Second, time.Millisecond)

	destroyDone := make(chan error, 1)
	go func() {
		destroyDone <- driver.Destroy("vm1")
	}()

	select {
	case err := <-destroyDone:
		t.Fatalf("destroy completed while the start was still in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(engine.startGate)
	require.NoError(t, <-startDone)
	require.NoError(t, <-destroyDone)

	vm := driver.Domains().FindByName("vm1")
	require.NotNil(t, vm)
	requireState(t, vm, DomainShutoff, ShutoffDestroyed)
	assert.Equal(t, int64(-1), vm.ID())
	assert.True(t, engine.machine("vm1").wasReleased())
}

func TestDestroyInactiveDomain(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)
	require.NoError(t, driver.Destroy("vm1"))
	requireState(t, vm, DomainShutoff, ShutoffDestroyed)

	require.ErrorIs(t, driver.Destroy("vm1"), ErrDomainNotActive)
	// the first destroy's reason is untouched
	requireState(t, vm, DomainShutoff, ShutoffDestroyed)
}

func TestShutdown(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)

	require.NoError(t, driver.Shutdown("vm1"))
	assert.Equal(t, 1, engine.machine("vm1").stopCount())
	// cooperative shutdown does not change the state by itself
	requireState(t, vm, DomainRunning, ShutoffUnknown)

	engine.machine("vm1").guestDidStop()
	requireState(t, vm, DomainShutoff, ShutoffGuestShutdown)
	assert.Equal(t, int64(-1), vm.ID())
}

func TestShutdownRequestFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.requestStopErr = errors.New("guest unreachable")
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)

	require.ErrorContains(t, driver.Shutdown("vm1"), "guest unreachable")
	requireState(t, vm, DomainRunning, ShutoffUnknown)
	assert.Equal(t, int64(1), vm.ID())
}

func TestShutdownInactiveDomain(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	_, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)
	require.NoError(t, driver.Destroy("vm1"))

	require.ErrorIs(t, driver.Shutdown("vm1"), ErrDomainNotActive)
}

func TestGuestCrashDelegate(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)

	engine.machine("vm1").didStopWithError(errors.New("kvm internal error"))
	requireState(t, vm, DomainShutoff, ShutoffCrashed)
	assert.Equal(t, int64(-1), vm.ID())
	assert.True(t, engine.machine("vm1").wasReleased())
}

func TestDelegateAfterRemovalIsNoOp(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	_, err := driver.CreateAndStart(testDomainDef(t, "vm1"), false)
	require.NoError(t, err)
	machine := engine.machine("vm1")
	require.NoError(t, driver.Destroy("vm1"))

	// a late stop event must not resurrect or crash anything
	machine.guestDidStop()
	assert.Nil(t, driver.Domains().FindByName("vm1"))
}

func TestDuplicateStopEvents(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)

	machine := engine.machine("vm1")
	machine.guestDidStop()
	requireState(t, vm, DomainShutoff, ShutoffGuestShutdown)

	// a second event for the same stop keeps the original reason
	machine.didStopWithError(errors.New("spurious"))
	requireState(t, vm, DomainShutoff, ShutoffGuestShutdown)
}

func TestStartTimeout(t *testing.T) {
	engine := newFakeEngine()
	engine.startHangs = true
	driver := New(engine, Config{
		OperationTimeout: 50 * time.Millisecond,
	})

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.ErrorIs(t, err, vmm.ErrTimeout)
	require.Nil(t, vm)

	vm = driver.Domains().FindByName("vm1")
	require.NotNil(t, vm)
	requireState(t, vm, DomainShutoff, ShutoffUnknown)
	assert.Equal(t, int64(-1), vm.ID())
}

func TestDisplayServerLifecycle(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	def := testDomainDef(t, "vm1")
	graphics, err := config.GraphicsNew(5901)
	require.NoError(t, err)
	def.AddDevice(graphics)

	_, err = driver.CreateAndStart(def, true)
	require.NoError(t, err)

	machine := engine.machine("vm1")
	require.NoError(t, driver.Destroy("vm1"))

	machine.mu.Lock()
	displays := machine.displays
	machine.mu.Unlock()
	require.Len(t, displays, 1)
	assert.Equal(t, 5901, displays[0].port)
	started, stopped := displays[0].state()
	assert.True(t, started)
	assert.True(t, stopped)
	assert.True(t, machine.wasReleased())
}

func TestDisplayServerCreationFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.displayErr = errors.New("vnc unavailable")
	driver := testDriver(engine)

	def := testDomainDef(t, "vm1")
	graphics, err := config.GraphicsNew(5901)
	require.NoError(t, err)
	def.AddDevice(graphics)

	// a failed display server must not bring down the domain
	vm, err := driver.CreateAndStart(def, true)
	require.NoError(t, err)
	requireState(t, vm, DomainRunning, ShutoffUnknown)

	machine := engine.machine("vm1")
	machine.mu.Lock()
	displays := machine.displays
	machine.mu.Unlock()
	assert.Empty(t, displays)

	require.NoError(t, driver.Destroy("vm1"))
	requireState(t, vm, DomainShutoff, ShutoffDestroyed)
}

func TestFindByIDIgnoresInactiveDomains(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	vm, err := driver.CreateAndStart(testDomainDef(t, "vm1"), true)
	require.NoError(t, err)
	id := vm.ID()
	require.NoError(t, driver.Destroy("vm1"))
	assert.Equal(t, int64(-1), vm.ID())

	// neither the unassigned id nor the old one match a shut off domain
	assert.Nil(t, driver.Domains().FindByID(-1))
	assert.Nil(t, driver.Domains().FindByID(id))
}

func TestConcurrentStarts(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	const count = 16
	var wg sync.WaitGroup
	errs := make([]error, count)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("vm%d", i)
			_, errs[i] = driver.CreateAndStart(testDomainDef(t, name), true)
		}(i)
	}
	wg.Wait()

	ids := make(map[int64]string)
	for i := 0; i < count; i++ {
		require.NoError(t, errs[i])
		vm := driver.Domains().FindByName(fmt.Sprintf("vm%d", i))
		require.NotNil(t, vm)
		id := vm.ID()
		require.Greater(t, id, int64(0))
		other, taken := ids[id]
		require.False(t, taken, "id %d assigned to both %s and %s", id, other, vm.Name)
		ids[id] = vm.Name
	}
}

func TestListIsSortedByName(t *testing.T) {
	engine := newFakeEngine()
	driver := testDriver(engine)

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		_, err := driver.CreateAndStart(testDomainDef(t, name), true)
		require.NoError(t, err)
	}

	var names []string
	for _, vm := range driver.Domains().List() {
		names = append(names, vm.Name)
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)
}

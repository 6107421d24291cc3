package driver

import (
	log "github.com/sirupsen/logrus"
)

// machineDelegate funnels engine-initiated stop events back into the
// driver. It holds the domain name rather than a pointer to the domain
// object: events arriving after the domain left the registry resolve to
// nothing and become no-ops instead of dangling accesses.
type machineDelegate struct {
	driver *Driver
	name   string
}

func (d *machineDelegate) GuestDidStop() {
	log.Infof("guest of domain %s stopped the virtual machine", d.name)
	d.driver.handleMachineStop(d.name, ShutoffGuestShutdown)
}

func (d *machineDelegate) DidStopWithError(err error) {
	log.Errorf("virtual machine of domain %s stopped with error: %v", d.name, err)
	d.driver.handleMachineStop(d.name, ShutoffCrashed)
}

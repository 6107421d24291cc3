package config

// A VMComponent is a part of a domain definition which knows how to
// serialize itself to and from the --device command line grammar.
type VMComponent interface {
	FromOptions([]option) error
	ToCmdLine() ([]string, error)
}

// Features are per-domain feature toggles.
type Features struct {
	// NestedVirt enables nested virtualization when the host CPU
	// supports it. Off by default.
	NestedVirt bool `json:"nestedVirt,omitempty"`
}

// Domain is the declarative description of one virtual machine: its
// resource sizing, firmware and device list. It is owned by the caller
// and read-only to the driver; nothing in this package mutates it after
// translation starts.
type Domain struct {
	Name       string     `json:"name"`
	Vcpus      uint       `json:"vcpus"`
	MemoryKiB  uint64     `json:"memoryKiB"`
	Features   Features   `json:"features,omitempty"`
	Bootloader Bootloader `json:"bootloader"`
	Devices    []Device   `json:"devices,omitempty"`
}

// NewDomain creates a new domain definition with the given resources
// and bootloader and no devices.
func NewDomain(name string, vcpus uint, memoryKiB uint64, bootloader Bootloader) *Domain {
	return &Domain{
		Name:       name,
		Vcpus:      vcpus,
		MemoryKiB:  memoryKiB,
		Bootloader: bootloader,
	}
}

// MemoryBytes returns the domain memory size in bytes. The definition
// stores memory in kibibytes; the virtualization framework expects
// bytes.
func (dom *Domain) MemoryBytes() uint64 {
	return dom.MemoryKiB * 1024
}

// AddDevicesFromCmdLine parses a list of `--device` arguments and
// appends the resulting devices to the domain.
func (dom *Domain) AddDevicesFromCmdLine(cmdlineOpts []string) error {
	for _, deviceOpts := range cmdlineOpts {
		dev, err := deviceFromCmdLine(deviceOpts)
		if err != nil {
			return err
		}
		dom.Devices = append(dom.Devices, dev)
	}
	return nil
}

// AddDevice appends a single device to the domain.
func (dom *Domain) AddDevice(dev Device) {
	dom.Devices = append(dom.Devices, dev)
}

// GraphicsDevices returns all graphics devices in the definition.
func (dom *Domain) GraphicsDevices() []*Graphics {
	graphics := []*Graphics{}
	for _, dev := range dom.Devices {
		if g, isGraphics := dev.(*Graphics); isGraphics {
			graphics = append(graphics, g)
		}
	}

	return graphics
}

// Disks returns all disk devices in the definition.
func (dom *Domain) Disks() []*Disk {
	disks := []*Disk{}
	for _, dev := range dom.Devices {
		if disk, isDisk := dev.(*Disk); isDisk {
			disks = append(disks, disk)
		}
	}

	return disks
}

// ToCmdLine serializes the domain to vzvmm command line arguments.
func (dom *Domain) ToCmdLine() ([]string, error) {
	args := []string{}

	bootloaderArgs, err := dom.Bootloader.ToCmdLine()
	if err != nil {
		return nil, err
	}
	args = append(args, bootloaderArgs...)

	for _, dev := range dom.Devices {
		devArgs, err := dev.ToCmdLine()
		if err != nil {
			return nil, err
		}
		args = append(args, devArgs...)
	}

	return args, nil
}

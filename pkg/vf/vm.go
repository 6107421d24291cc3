package vf

import (
	"fmt"

	"github.com/Code-Hex/vz/v3"

	"github.com/macvz/vzvmm/pkg/config"
)

// vzVirtualMachineConfiguration accumulates per-class device slices
// while the domain devices are translated one by one. The vz setters
// replace the whole slice on every call, so the slices are only applied
// once all devices have been added.
type vzVirtualMachineConfiguration struct {
	*vz.VirtualMachineConfiguration
	storageDevicesConfiguration          []vz.StorageDeviceConfiguration
	directorySharingDevicesConfiguration []vz.DirectorySharingDeviceConfiguration
	keyboardConfiguration                []vz.KeyboardConfiguration
	pointingDevicesConfiguration         []vz.PointingDeviceConfiguration
	graphicsDevicesConfiguration         []vz.GraphicsDeviceConfiguration
	networkDevicesConfiguration          []*vz.VirtioNetworkDeviceConfiguration
	entropyDevicesConfiguration          []*vz.VirtioEntropyDeviceConfiguration
	serialPortsConfiguration             []*vz.VirtioConsoleDeviceSerialPortConfiguration
	audioDevicesConfiguration            []vz.AudioDeviceConfiguration
}

func newVzVirtualMachineConfiguration(dom *config.Domain, bootloader vz.BootLoader) (*vzVirtualMachineConfiguration, error) {
	vzVMConfig, err := vz.NewVirtualMachineConfiguration(bootloader, dom.Vcpus, dom.MemoryBytes())
	if err != nil {
		return nil, err
	}
	return &vzVirtualMachineConfiguration{
		VirtualMachineConfiguration: vzVMConfig,
	}, nil
}

func (cfg *vzVirtualMachineConfiguration) apply() {
	cfg.SetStorageDevicesVirtualMachineConfiguration(cfg.storageDevicesConfiguration)
	cfg.SetDirectorySharingDevicesVirtualMachineConfiguration(cfg.directorySharingDevicesConfiguration)
	cfg.SetKeyboardsVirtualMachineConfiguration(cfg.keyboardConfiguration)
	cfg.SetPointingDevicesVirtualMachineConfiguration(cfg.pointingDevicesConfiguration)
	cfg.SetGraphicsDevicesVirtualMachineConfiguration(cfg.graphicsDevicesConfiguration)
	cfg.SetNetworkDevicesVirtualMachineConfiguration(cfg.networkDevicesConfiguration)
	cfg.SetEntropyDevicesVirtualMachineConfiguration(cfg.entropyDevicesConfiguration)
	cfg.SetSerialPortsVirtualMachineConfiguration(cfg.serialPortsConfiguration)
	cfg.SetAudioDevicesVirtualMachineConfiguration(cfg.audioDevicesConfiguration)
}

func attachPlatformConfig(dom *config.Domain, vmConfig *vz.VirtualMachineConfiguration) error {
	platformConfig, err := vz.NewGenericPlatformConfiguration()
	if err != nil {
		return err
	}

	if dom.Features.NestedVirt {
		if !vz.IsNestedVirtualizationSupported() {
			return fmt.Errorf("nested virtualization is not supported on this device")
		}
		if err := platformConfig.SetNestedVirtualizationEnabled(true); err != nil {
			return fmt.Errorf("cannot enable nested virtualization: %w", err)
		}
	}

	vmConfig.SetPlatformVirtualMachineConfiguration(platformConfig)
	return nil
}

// ToVzVirtualMachineConfig translates a domain definition to a
// validated virtualization framework configuration. The device order of
// the definition is preserved within each device class, so PCI slot
// assignment is stable across restarts of the same definition.
func (e *Engine) ToVzVirtualMachineConfig(dom *config.Domain) (*vz.VirtualMachineConfiguration, error) {
	vzBootloader, err := e.toVzBootloader(dom.Bootloader, dom.Name)
	if err != nil {
		return nil, err
	}

	vzVMConfig, err := newVzVirtualMachineConfiguration(dom, vzBootloader)
	if err != nil {
		return nil, err
	}

	if err := attachPlatformConfig(dom, vzVMConfig.VirtualMachineConfiguration); err != nil {
		return nil, err
	}

	for _, dev := range dom.Devices {
		if err := AddToVirtualMachineConfig(dev, vzVMConfig); err != nil {
			return nil, err
		}
	}
	vzVMConfig.apply()

	valid, err := vzVMConfig.Validate()
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, fmt.Errorf("invalid virtual machine configuration")
	}

	return vzVMConfig.VirtualMachineConfiguration, nil
}

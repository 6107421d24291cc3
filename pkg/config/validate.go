package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
)

// Policy carries the host-side settings validation depends on.
type Policy struct {
	// Privileged is set when the driver runs in system mode. Block
	// device disks are refused without it.
	Privileged bool
}

// Validate checks that every device and the bootloader of the domain
// can be expressed by the virtualization framework, before any engine
// object is instantiated. It never mutates the definition: unset
// models which translation silently upgrades (network model, filesystem
// driver, rng backend) are accepted as-is.
func (dom *Domain) Validate(policy *Policy) error {
	if dom.Name == "" {
		return fmt.Errorf("domain definition needs a name")
	}
	if err := validateBootloader(dom.Bootloader); err != nil {
		return err
	}
	for _, dev := range dom.Devices {
		if err := validateDevice(dev, policy); err != nil {
			return err
		}
	}
	return nil
}

func validateDevice(dev Device, policy *Policy) error {
	switch d := dev.(type) {
	case *Disk:
		return d.validate(policy)
	case *VirtioNet:
		return d.validate()
	case *Serial:
		return d.validate()
	case *Graphics:
		return d.validate()
	case *Sound:
		return d.validate()
	case *Input:
		return d.validate()
	case *VirtioFs:
		return d.validate()
	case *RosettaShare:
		return d.validate()
	case *VirtioRng:
		return d.validate()
	default:
		return fmt.Errorf("unsupported device type: %T", d)
	}
}

func isKernelUncompressed(filename string) (bool, error) {
	file, err := os.Open(filename)
	if err != nil {
		return false, err
	}
	defer file.Close()

	buf := make([]byte, 2048)
	_, err = file.Read(buf)
	if err != nil {
		return false, err
	}
	kind, err := filetype.Match(buf)
	if err != nil {
		return false, err
	}
	// uncompressed ARM64 kernels are matched as a MS executable, which is
	// also an archive, so we need to special case it
	if kind == matchers.TypeExe {
		return true, nil
	}

	return false, nil
}

func validateBootloader(bootloader Bootloader) error {
	switch b := bootloader.(type) {
	case *LinuxBootloader:
		if _, err := os.Stat(b.VmlinuzPath); err != nil {
			return fmt.Errorf("invalid kernel path: %w", err)
		}
		if b.InitrdPath != "" {
			if _, err := os.Stat(b.InitrdPath); err != nil {
				return fmt.Errorf("invalid initrd path: %w", err)
			}
		}
		if runtime.GOARCH == "arm64" {
			uncompressed, err := isKernelUncompressed(b.VmlinuzPath)
			if err != nil {
				return err
			}
			if !uncompressed {
				return fmt.Errorf("kernel must be uncompressed, %s is a compressed file", b.VmlinuzPath)
			}
		}
		return nil
	case *EFIBootloader:
		return nil
	case nil:
		return fmt.Errorf("domain definition needs a bootloader")
	default:
		return fmt.Errorf("unsupported bootloader type: %T", b)
	}
}

func (dev *Disk) validate(policy *Policy) error {
	switch dev.Bus {
	case DiskBusVirtio, DiskBusUSB, DiskBusNVMe:
	default:
		return fmt.Errorf("unsupported disk bus: %s", dev.Bus)
	}

	switch dev.Source {
	case DiskSourceFile:
		if dev.Path == "" {
			return fmt.Errorf("file disks need the path to a disk image")
		}
	case DiskSourceBlock:
		if !policy.Privileged {
			return fmt.Errorf("block device disks are only allowed in privileged mode")
		}
		if dev.Path == "" {
			return fmt.Errorf("block disks need the path to a block device")
		}
	case DiskSourceNBD:
		if len(dev.Hosts) == 0 {
			return fmt.Errorf("nbd disks need a host")
		}
		if len(dev.Hosts) > 1 {
			return fmt.Errorf("unsupported nbd disk with %d hosts, only one host is supported", len(dev.Hosts))
		}
	default:
		return fmt.Errorf("unsupported disk source: %s", dev.Source)
	}
	return nil
}

func (dev *VirtioNet) validate() error {
	// an unset model is upgraded to virtio at translation time
	if dev.Model != "" && dev.Model != "virtio" {
		return fmt.Errorf("unsupported network model: %s", dev.Model)
	}
	if dev.Attachment != NetAttachmentUser {
		return fmt.Errorf("unsupported network type %s", dev.Attachment)
	}
	return nil
}

func (dev *Serial) validate() error {
	switch dev.Kind {
	case SerialPty, SerialStdio:
		return nil
	case SerialFile:
		if dev.LogFile == "" {
			return fmt.Errorf("file serial consoles need the path to the log file")
		}
		return nil
	default:
		return fmt.Errorf("unsupported serial source: %s", dev.Kind)
	}
}

func (dev *Graphics) validate() error {
	if dev.Kind != GraphicsVNC {
		return fmt.Errorf("unsupported graphics type %s", dev.Kind)
	}
	return nil
}

func (dev *Sound) validate() error {
	if dev.Model != "" && dev.Model != "virtio" {
		return fmt.Errorf("unsupported sound model: %s", dev.Model)
	}
	return nil
}

func (dev *Input) validate() error {
	switch dev.Kind {
	case InputKeyboard, InputMouse, InputTablet:
		return nil
	default:
		return fmt.Errorf("unsupported input device kind: %s", dev.Kind)
	}
}

func (dev *VirtioFs) validate() error {
	if dev.Driver != "" && dev.Driver != FsDriverVirtio {
		return fmt.Errorf("unsupported filesystem driver: %s", dev.Driver)
	}
	if dev.SharedDir == "" {
		return fmt.Errorf("virtio-fs needs the path to the directory to share")
	}
	return nil
}

func (dev *RosettaShare) validate() error {
	if dev.MountTag == "" {
		return fmt.Errorf("rosetta shares need a mount tag")
	}
	return nil
}

func (dev *VirtioRng) validate() error {
	if dev.Backend != "" && dev.Backend != RngBackendBuiltin {
		return fmt.Errorf("unsupported rng backend: %s", dev.Backend)
	}
	return nil
}

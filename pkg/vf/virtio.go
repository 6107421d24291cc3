package vf

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/Code-Hex/vz/v3"
	"github.com/creack/pty"
	log "github.com/sirupsen/logrus"

	"github.com/macvz/vzvmm/pkg/config"
)

type Disk config.Disk
type VirtioNet config.VirtioNet
type Serial config.Serial
type Sound config.Sound
type Input config.Input
type VirtioFs config.VirtioFs
type RosettaShare config.RosettaShare
type VirtioRng config.VirtioRng
type Graphics config.Graphics

// nbdTimeout is how long the framework keeps trying to reconnect to the
// network block device server before giving up on the disk.
const nbdTimeout = 30 * time.Second

func (dev *Disk) toVzAttachment() (vz.StorageDeviceAttachment, error) {
	switch dev.Source {
	case config.DiskSourceFile:
		return vz.NewDiskImageStorageDeviceAttachmentWithCacheAndSync(
			dev.Path,
			dev.ReadOnly,
			vz.DiskImageCachingModeAutomatic,
			vz.DiskImageSynchronizationModeFsync,
		)
	case config.DiskSourceBlock:
		flags := os.O_RDWR
		if dev.ReadOnly {
			flags = os.O_RDONLY
		}
		devFile, err := os.OpenFile(dev.Path, flags, 0)
		if err != nil {
			return nil, fmt.Errorf("cannot open block device %s: %w", dev.Path, err)
		}
		return vz.NewDiskBlockDeviceStorageDeviceAttachment(
			devFile,
			dev.ReadOnly,
			vz.DiskSynchronizationModeFull,
		)
	case config.DiskSourceNBD:
		host := dev.Hosts[0]
		nbdHost := host.Name
		if host.Port != 0 {
			nbdHost = fmt.Sprintf("%s:%d", host.Name, host.Port)
		}
		nbdURL := url.URL{
			Scheme: "nbd",
			Host:   nbdHost,
			Path:   dev.Export,
		}
		return vz.NewNetworkBlockDeviceStorageDeviceAttachment(
			nbdURL.String(),
			nbdTimeout,
			dev.ReadOnly,
			vz.DiskSynchronizationModeFull,
		)
	default:
		return nil, fmt.Errorf("unsupported disk source: %s", dev.Source)
	}
}

func (dev *Disk) toVz() (vz.StorageDeviceConfiguration, error) {
	attachment, err := dev.toVzAttachment()
	if err != nil {
		return nil, err
	}
	switch dev.Bus {
	case config.DiskBusVirtio:
		return vz.NewVirtioBlockDeviceConfiguration(attachment)
	case config.DiskBusNVMe:
		return vz.NewNVMExpressControllerDeviceConfiguration(attachment)
	case config.DiskBusUSB:
		return vz.NewUSBMassStorageDeviceConfiguration(attachment)
	default:
		return nil, fmt.Errorf("unsupported disk bus: %s", dev.Bus)
	}
}

func (dev *Disk) AddToVirtualMachineConfig(vmConfig *vzVirtualMachineConfiguration) error {
	log.Infof("Adding %s disk device (source: %s path: %s)", dev.Bus, dev.Source, dev.Path)
	storageDeviceConfig, err := dev.toVz()
	if err != nil {
		return err
	}
	vmConfig.storageDevicesConfiguration = append(vmConfig.storageDevicesConfiguration, storageDeviceConfig)
	return nil
}

func (dev *VirtioNet) toVz() (*vz.VirtioNetworkDeviceConfiguration, error) {
	var (
		mac *vz.MACAddress
		err error
	)

	if len(dev.MacAddress) == 0 {
		mac, err = vz.NewRandomLocallyAdministeredMACAddress()
	} else {
		mac, err = vz.NewMACAddress(dev.MacAddress)
	}
	if err != nil {
		return nil, err
	}

	if dev.Attachment != config.NetAttachmentUser {
		return nil, fmt.Errorf("unsupported network type %s", dev.Attachment)
	}
	natAttachment, err := vz.NewNATNetworkDeviceAttachment()
	if err != nil {
		return nil, err
	}
	networkConfig, err := vz.NewVirtioNetworkDeviceConfiguration(natAttachment)
	if err != nil {
		return nil, err
	}
	networkConfig.SetMACAddress(mac)

	return networkConfig, nil
}

func (dev *VirtioNet) AddToVirtualMachineConfig(vmConfig *vzVirtualMachineConfiguration) error {
	log.Infof("Adding virtio-net device (attachment: %s macAddress: [%s])", dev.Attachment, dev.MacAddress)
	netConfig, err := dev.toVz()
	if err != nil {
		return err
	}
	vmConfig.networkDevicesConfiguration = append(vmConfig.networkDevicesConfiguration, netConfig)
	return nil
}

func (dev *Serial) toVz() (*vz.VirtioConsoleDeviceSerialPortConfiguration, error) {
	var (
		attachment vz.SerialPortAttachment
		err        error
	)
	switch dev.Kind {
	case config.SerialFile:
		attachment, err = vz.NewFileSerialPortAttachment(dev.LogFile, false)
	case config.SerialPty:
		var ptm, pts *os.File
		ptm, pts, err = pty.Open()
		if err != nil {
			break
		}
		// both ends must stay open for the lifetime of the VM
		log.Infof("serial console available on %s", pts.Name())
		attachment, err = vz.NewFileHandleSerialPortAttachment(ptm, ptm)
	case config.SerialStdio:
		if err = setRawMode(os.Stdin); err != nil {
			break
		}
		attachment, err = vz.NewFileHandleSerialPortAttachment(os.Stdin, os.Stdout)
	default:
		return nil, fmt.Errorf("unsupported serial source: %s", dev.Kind)
	}
	if err != nil {
		return nil, err
	}
	return vz.NewVirtioConsoleDeviceSerialPortConfiguration(attachment)
}

func (dev *Serial) AddToVirtualMachineConfig(vmConfig *vzVirtualMachineConfiguration) error {
	log.Infof("Adding virtio-serial device (%s)", dev.Kind)
	consoleConfig, err := dev.toVz()
	if err != nil {
		return err
	}
	vmConfig.serialPortsConfiguration = append(vmConfig.serialPortsConfiguration, consoleConfig)
	return nil
}

func (dev *Sound) toVz() (vz.AudioDeviceConfiguration, error) {
	soundDeviceConfig, err := vz.NewVirtioSoundDeviceConfiguration()
	if err != nil {
		return nil, err
	}
	outputStream, err := vz.NewVirtioSoundDeviceHostOutputStreamConfiguration()
	if err != nil {
		return nil, err
	}
	soundDeviceConfig.SetStreams(outputStream)
	return soundDeviceConfig, nil
}

func (dev *Sound) AddToVirtualMachineConfig(vmConfig *vzVirtualMachineConfiguration) error {
	log.Infof("Adding virtio-sound device")
	soundDeviceConfig, err := dev.toVz()
	if err != nil {
		return err
	}
	vmConfig.audioDevicesConfiguration = append(vmConfig.audioDevicesConfiguration, soundDeviceConfig)
	return nil
}

func (dev *Input) AddToVirtualMachineConfig(vmConfig *vzVirtualMachineConfiguration) error {
	log.Infof("Adding %s input device", dev.Kind)
	switch dev.Kind {
	case config.InputKeyboard:
		keyboardConfig, err := vz.NewUSBKeyboardConfiguration()
		if err != nil {
			return err
		}
		vmConfig.keyboardConfiguration = append(vmConfig.keyboardConfiguration, keyboardConfig)
	case config.InputMouse, config.InputTablet:
		pointingDeviceConfig, err := vz.NewUSBScreenCoordinatePointingDeviceConfiguration()
		if err != nil {
			return err
		}
		vmConfig.pointingDevicesConfiguration = append(vmConfig.pointingDevicesConfiguration, pointingDeviceConfig)
	default:
		return fmt.Errorf("unsupported input device kind: %s", dev.Kind)
	}
	return nil
}

// scanout resolution of the guest framebuffer exposed over VNC
const (
	graphicsWidth  = 1920
	graphicsHeight = 1200
)

func (dev *Graphics) toVz() (vz.GraphicsDeviceConfiguration, error) {
	graphicsDeviceConfig, err := vz.NewVirtioGraphicsDeviceConfiguration()
	if err != nil {
		return nil, err
	}
	scanoutConfig, err := vz.NewVirtioGraphicsScanoutConfiguration(graphicsWidth, graphicsHeight)
	if err != nil {
		return nil, err
	}
	graphicsDeviceConfig.SetScanouts(scanoutConfig)
	return graphicsDeviceConfig, nil
}

func (dev *Graphics) AddToVirtualMachineConfig(vmConfig *vzVirtualMachineConfiguration) error {
	log.Infof("Adding virtio-gpu device for vnc display on port %d", dev.Port)
	graphicsDeviceConfig, err := dev.toVz()
	if err != nil {
		return err
	}
	vmConfig.graphicsDevicesConfiguration = append(vmConfig.graphicsDevicesConfiguration, graphicsDeviceConfig)
	return nil
}

func (dev *VirtioFs) toVz() (vz.DirectorySharingDeviceConfiguration, error) {
	if dev.SharedDir == "" {
		return nil, fmt.Errorf("missing mandatory 'sharedDir' option for virtio-fs device")
	}
	mountTag := dev.MountTag
	if mountTag == "" {
		mountTag = filepath.Base(dev.SharedDir)
	}

	sharedDir, err := vz.NewSharedDirectory(dev.SharedDir, dev.ReadOnly)
	if err != nil {
		return nil, err
	}
	sharedDirConfig, err := vz.NewSingleDirectoryShare(sharedDir)
	if err != nil {
		return nil, err
	}
	fileSystemDeviceConfig, err := vz.NewVirtioFileSystemDeviceConfiguration(mountTag)
	if err != nil {
		return nil, err
	}
	fileSystemDeviceConfig.SetDirectoryShare(sharedDirConfig)
	return fileSystemDeviceConfig, nil
}

func (dev *VirtioFs) AddToVirtualMachineConfig(vmConfig *vzVirtualMachineConfiguration) error {
	log.Infof("Adding virtio-fs device (sharedDir: %s)", dev.SharedDir)
	fileSystemDeviceConfig, err := dev.toVz()
	if err != nil {
		return err
	}
	vmConfig.directorySharingDevicesConfiguration = append(vmConfig.directorySharingDevicesConfiguration, fileSystemDeviceConfig)
	return nil
}

func (dev *VirtioRng) AddToVirtualMachineConfig(vmConfig *vzVirtualMachineConfiguration) error {
	log.Infof("Adding virtio-rng device")
	entropyConfig, err := vz.NewVirtioEntropyDeviceConfiguration()
	if err != nil {
		return err
	}
	vmConfig.entropyDevicesConfiguration = append(vmConfig.entropyDevicesConfiguration, entropyConfig)
	return nil
}

func AddToVirtualMachineConfig(dev config.Device, vmConfig *vzVirtualMachineConfiguration) error {
	switch d := dev.(type) {
	case *config.Disk:
		return (*Disk)(d).AddToVirtualMachineConfig(vmConfig)
	case *config.VirtioNet:
		return (*VirtioNet)(d).AddToVirtualMachineConfig(vmConfig)
	case *config.Serial:
		return (*Serial)(d).AddToVirtualMachineConfig(vmConfig)
	case *config.Sound:
		return (*Sound)(d).AddToVirtualMachineConfig(vmConfig)
	case *config.Input:
		return (*Input)(d).AddToVirtualMachineConfig(vmConfig)
	case *config.Graphics:
		return (*Graphics)(d).AddToVirtualMachineConfig(vmConfig)
	case *config.VirtioFs:
		return (*VirtioFs)(d).AddToVirtualMachineConfig(vmConfig)
	case *config.RosettaShare:
		return (*RosettaShare)(d).AddToVirtualMachineConfig(vmConfig)
	case *config.VirtioRng:
		return (*VirtioRng)(d).AddToVirtualMachineConfig(vmConfig)
	default:
		return fmt.Errorf("unexpected device type: %T", d)
	}
}

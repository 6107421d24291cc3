package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// The Device interface is implemented by all guest device descriptions.
// A Device is a purely declarative object; it is compiled to an
// engine-native configuration by pkg/vf when the domain is started.
type Device VMComponent

// DiskSource selects what backs a disk on the host.
type DiskSource string

const (
	// DiskSourceFile is a raw disk image file.
	DiskSourceFile DiskSource = "file"
	// DiskSourceBlock is a host block device node such as /dev/disk4.
	// Only available when the driver runs in privileged mode.
	DiskSourceBlock DiskSource = "block"
	// DiskSourceNBD is a network block device export.
	DiskSourceNBD DiskSource = "nbd"
)

// DiskBus selects the guest-visible controller for a disk. It is
// orthogonal to the disk source.
type DiskBus string

const (
	DiskBusVirtio DiskBus = "virtio"
	DiskBusUSB    DiskBus = "usb"
	DiskBusNVMe   DiskBus = "nvme"
)

// DiskHost is one server of a network block device export.
type DiskHost struct {
	Name string `json:"name"`
	Port uint   `json:"port,omitempty"`
}

// Disk configures a disk device.
type Disk struct {
	Source   DiskSource `json:"source"`
	Bus      DiskBus    `json:"bus"`
	Path     string     `json:"path,omitempty"`   // file image or block device node
	Hosts    []DiskHost `json:"hosts,omitempty"`  // nbd only
	Export   string     `json:"export,omitempty"` // nbd only
	ReadOnly bool       `json:"readOnly,omitempty"`
}

// NetAttachment selects how a network device is attached to the host
// network. Only user-mode (NAT) networking is currently supported.
type NetAttachment string

const (
	NetAttachmentUser      NetAttachment = "user"
	NetAttachmentBridge    NetAttachment = "bridge"
	NetAttachmentNetwork   NetAttachment = "network"
	NetAttachmentDirect    NetAttachment = "direct"
	NetAttachmentVhostUser NetAttachment = "vhostuser"
)

// VirtioNet configures the virtual machine networking.
type VirtioNet struct {
	Model      string           `json:"model,omitempty"` // empty is upgraded to "virtio"
	Attachment NetAttachment    `json:"attachment"`
	MacAddress net.HardwareAddr `json:"macAddress,omitempty"`
}

// SerialKind selects what backs a serial console on the host.
type SerialKind string

const (
	SerialPty   SerialKind = "pty"
	SerialFile  SerialKind = "file"
	SerialStdio SerialKind = "stdio"
)

// Serial configures a virtio console device. The source is serialized
// under a 'source' key as 'kind' is reserved for the device type tag.
type Serial struct {
	Kind    SerialKind `json:"source"`
	LogFile string     `json:"logFile,omitempty"`
}

// GraphicsVNC is the only supported graphics kind. The display is
// exported over a VNC server started once the VM is running.
const GraphicsVNC = "vnc"

// Graphics configures a remote display.
type Graphics struct {
	Kind string `json:"type"`
	Port int    `json:"port"`
}

// Sound configures a sound device. Only the virtio model is supported,
// and only the output direction is wired up.
type Sound struct {
	Model string `json:"model,omitempty"`
}

// InputKind selects the kind of an input device.
type InputKind string

const (
	InputKeyboard InputKind = "keyboard"
	InputMouse    InputKind = "mouse"
	InputTablet   InputKind = "tablet"
)

// Input configures a keyboard or pointing device.
type Input struct {
	Kind InputKind `json:"type"`
}

// FsDriverVirtio is the only supported filesystem share driver; an
// unset driver is upgraded to it.
const FsDriverVirtio = "virtiofs"

// VirtioFs configures directory sharing between the guest and the host.
// The directory can be mounted in the VM with
// `mount -t virtiofs mountTag /some/dir`.
type VirtioFs struct {
	Driver    string `json:"driver,omitempty"`
	SharedDir string `json:"sharedDir"`
	MountTag  string `json:"mountTag,omitempty"`
	ReadOnly  bool   `json:"readOnly,omitempty"`
}

// RosettaShare configures a directory share exposing the host's x86-64
// binary translation layer to an arm64 linux guest.
type RosettaShare struct {
	MountTag       string `json:"mountTag"`
	InstallRosetta bool   `json:"installRosetta,omitempty"`
}

// RngBackendBuiltin is the only supported entropy backend; an unset
// backend is upgraded to it.
const RngBackendBuiltin = "builtin"

// VirtioRng configures a random number generator device feeding entropy
// into the virtual machine.
type VirtioRng struct {
	Backend string `json:"backend,omitempty"`
}

type option struct {
	key   string
	value string
}

func strToOption(str string) option {
	splitStr := strings.SplitN(str, "=", 2)

	opt := option{
		key: splitStr[0],
	}
	if len(splitStr) > 1 {
		opt.value = splitStr[1]
	}

	return opt
}

func strvToOptions(opts []string) []option {
	parsedOpts := []option{}
	for _, opt := range opts {
		if len(opt) == 0 {
			continue
		}
		parsedOpts = append(parsedOpts, strToOption(opt))
	}

	return parsedOpts
}

func deviceFromCmdLine(deviceOpts string) (Device, error) {
	opts := strings.Split(deviceOpts, ",")
	if len(opts) == 0 {
		return nil, fmt.Errorf("empty option list in command line argument")
	}
	var dev Device
	switch opts[0] {
	case "virtio-blk":
		dev = diskNewEmpty(DiskBusVirtio)
	case "nvme":
		dev = diskNewEmpty(DiskBusNVMe)
	case "usb-mass-storage":
		dev = diskNewEmpty(DiskBusUSB)
	case "virtio-net":
		dev = &VirtioNet{}
	case "virtio-serial":
		dev = &Serial{}
	case "virtio-fs":
		dev = &VirtioFs{}
	case "rosetta":
		dev = &RosettaShare{}
	case "virtio-rng":
		dev = &VirtioRng{}
	case "virtio-sound":
		dev = &Sound{}
	case "virtio-input":
		dev = &Input{}
	case "vnc":
		dev = &Graphics{Kind: GraphicsVNC}
	default:
		return nil, fmt.Errorf("unknown device type: %s", opts[0])
	}

	parsedOpts := strvToOptions(opts[1:])
	if err := dev.FromOptions(parsedOpts); err != nil {
		return nil, err
	}

	return dev, nil
}

func diskNewEmpty(bus DiskBus) *Disk {
	return &Disk{
		Source: DiskSourceFile,
		Bus:    bus,
	}
}

// VirtioBlkNew creates a new virtio disk backed by the image file at
// imagePath. The image must be in raw format.
func VirtioBlkNew(imagePath string) (*Disk, error) {
	disk := diskNewEmpty(DiskBusVirtio)
	disk.Path = imagePath

	return disk, nil
}

// NVMExpressControllerNew creates a new NVMe disk backed by the image
// file at imagePath.
func NVMExpressControllerNew(imagePath string) (*Disk, error) {
	disk := diskNewEmpty(DiskBusNVMe)
	disk.Path = imagePath

	return disk, nil
}

// USBMassStorageNew creates a new USB disk backed by the image file at
// imagePath. The image must be in raw or ISO format.
func USBMassStorageNew(imagePath string) (*Disk, error) {
	disk := diskNewEmpty(DiskBusUSB)
	disk.Path = imagePath

	return disk, nil
}

// BlockDeviceNew creates a new virtio disk backed by the host block
// device node at devPath. Block device disks require the driver to run
// in privileged mode.
func BlockDeviceNew(devPath string) (*Disk, error) {
	return &Disk{
		Source: DiskSourceBlock,
		Bus:    DiskBusVirtio,
		Path:   devPath,
	}, nil
}

// NetworkBlockDeviceNew creates a new virtio disk backed by the export
// served by host:port over the NBD protocol.
func NetworkBlockDeviceNew(host string, port uint, export string) (*Disk, error) {
	return &Disk{
		Source: DiskSourceNBD,
		Bus:    DiskBusVirtio,
		Hosts:  []DiskHost{{Name: host, Port: port}},
		Export: export,
	}, nil
}

func (dev *Disk) devName() (string, error) {
	switch dev.Bus {
	case DiskBusVirtio:
		return "virtio-blk", nil
	case DiskBusNVMe:
		return "nvme", nil
	case DiskBusUSB:
		return "usb-mass-storage", nil
	default:
		return "", fmt.Errorf("unsupported disk bus: %s", dev.Bus)
	}
}

func (dev *Disk) ToCmdLine() ([]string, error) {
	name, err := dev.devName()
	if err != nil {
		return nil, err
	}
	builder := strings.Builder{}
	builder.WriteString(name)
	switch dev.Source {
	case DiskSourceFile:
		if dev.Path == "" {
			return nil, fmt.Errorf("%s devices need the path to a disk image", name)
		}
		builder.WriteString(fmt.Sprintf(",path=%s", dev.Path))
	case DiskSourceBlock:
		if dev.Path == "" {
			return nil, fmt.Errorf("%s devices need the path to a block device", name)
		}
		builder.WriteString(fmt.Sprintf(",device=%s", dev.Path))
	case DiskSourceNBD:
		if len(dev.Hosts) != 1 {
			return nil, fmt.Errorf("%s devices need exactly one nbd host", name)
		}
		builder.WriteString(fmt.Sprintf(",nbd-host=%s", dev.Hosts[0].Name))
		if dev.Hosts[0].Port != 0 {
			builder.WriteString(fmt.Sprintf(":%d", dev.Hosts[0].Port))
		}
		if dev.Export != "" {
			builder.WriteString(fmt.Sprintf(",nbd-export=%s", dev.Export))
		}
	default:
		return nil, fmt.Errorf("unsupported disk source: %s", dev.Source)
	}
	if dev.ReadOnly {
		builder.WriteString(",readonly")
	}

	return []string{"--device", builder.String()}, nil
}

func (dev *Disk) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "path":
			dev.Source = DiskSourceFile
			dev.Path = option.value
		case "device":
			dev.Source = DiskSourceBlock
			dev.Path = option.value
		case "nbd-host":
			dev.Source = DiskSourceNBD
			host := option.value
			var port uint
			if h, p, err := net.SplitHostPort(option.value); err == nil {
				portNum, err := strconv.Atoi(p)
				if err != nil {
					return err
				}
				host = h
				port = uint(portNum)
			}
			dev.Hosts = append(dev.Hosts, DiskHost{Name: host, Port: port})
		case "nbd-export":
			dev.Export = option.value
		case "readonly":
			if option.value != "" {
				return fmt.Errorf("unexpected value for disk 'readonly' option: %s", option.value)
			}
			dev.ReadOnly = true
		default:
			return fmt.Errorf("unknown option for disk devices: %s", option.key)
		}
	}
	return nil
}

// VirtioNetNew creates a new user-mode (NAT) network device. It will
// use macAddress as its MAC address when non-empty.
func VirtioNetNew(macAddress string) (*VirtioNet, error) {
	var hwAddr net.HardwareAddr

	if macAddress != "" {
		var err error
		if hwAddr, err = net.ParseMAC(macAddress); err != nil {
			return nil, err
		}
	}
	return &VirtioNet{
		Attachment: NetAttachmentUser,
		MacAddress: hwAddr,
	}, nil
}

func (dev *VirtioNet) ToCmdLine() ([]string, error) {
	if dev.Attachment != NetAttachmentUser {
		return nil, fmt.Errorf("unsupported network type %s", dev.Attachment)
	}
	builder := strings.Builder{}
	builder.WriteString("virtio-net")
	builder.WriteString(",nat")
	if len(dev.MacAddress) != 0 {
		builder.WriteString(fmt.Sprintf(",mac=%s", dev.MacAddress))
	}

	return []string{"--device", builder.String()}, nil
}

func (dev *VirtioNet) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "nat":
			if option.value != "" {
				return fmt.Errorf("unexpected value for virtio-net 'nat' option: %s", option.value)
			}
			dev.Attachment = NetAttachmentUser
		case "bridged":
			dev.Attachment = NetAttachmentBridge
		case "direct":
			dev.Attachment = NetAttachmentDirect
		case "model":
			dev.Model = option.value
		case "mac":
			macAddress, err := net.ParseMAC(option.value)
			if err != nil {
				return err
			}
			dev.MacAddress = macAddress
		default:
			return fmt.Errorf("unknown option for virtio-net devices: %s", option.key)
		}
	}
	return nil
}

// SerialNew creates a new serial console. Output the virtual machine
// sends to the serial port will be written to the file at logFilePath.
func SerialNew(logFilePath string) (*Serial, error) {
	return &Serial{
		Kind:    SerialFile,
		LogFile: logFilePath,
	}, nil
}

// SerialNewPty creates a new serial console backed by a host
// pseudo-terminal.
func SerialNewPty() (*Serial, error) {
	return &Serial{
		Kind: SerialPty,
	}, nil
}

// SerialNewStdio creates a new serial console wired to the stdio of the
// driver process.
func SerialNewStdio() (*Serial, error) {
	return &Serial{
		Kind: SerialStdio,
	}, nil
}

func (dev *Serial) ToCmdLine() ([]string, error) {
	switch dev.Kind {
	case SerialFile:
		if dev.LogFile == "" {
			return nil, fmt.Errorf("virtio-serial needs the path to the log file")
		}
		return []string{"--device", fmt.Sprintf("virtio-serial,logFilePath=%s", dev.LogFile)}, nil
	case SerialPty:
		return []string{"--device", "virtio-serial,pty"}, nil
	case SerialStdio:
		return []string{"--device", "virtio-serial,stdio"}, nil
	default:
		return nil, fmt.Errorf("unsupported serial source: %s", dev.Kind)
	}
}

func (dev *Serial) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "logFilePath":
			dev.Kind = SerialFile
			dev.LogFile = option.value
		case "pty":
			dev.Kind = SerialPty
		case "stdio":
			dev.Kind = SerialStdio
		default:
			return fmt.Errorf("unknown option for virtio-serial devices: %s", option.key)
		}
	}
	return nil
}

// GraphicsNew creates a new VNC remote display listening on port.
func GraphicsNew(port int) (*Graphics, error) {
	return &Graphics{
		Kind: GraphicsVNC,
		Port: port,
	}, nil
}

func (dev *Graphics) ToCmdLine() ([]string, error) {
	if dev.Kind != GraphicsVNC {
		return nil, fmt.Errorf("unsupported graphics type %s", dev.Kind)
	}
	return []string{"--device", fmt.Sprintf("vnc,port=%d", dev.Port)}, nil
}

func (dev *Graphics) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "port":
			port, err := strconv.Atoi(option.value)
			if err != nil {
				return err
			}
			dev.Port = port
		default:
			return fmt.Errorf("unknown option for vnc devices: %s", option.key)
		}
	}
	return nil
}

// SoundNew creates a new virtio sound device.
func SoundNew() (*Sound, error) {
	return &Sound{}, nil
}

func (dev *Sound) ToCmdLine() ([]string, error) {
	return []string{"--device", "virtio-sound"}, nil
}

func (dev *Sound) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "model":
			dev.Model = option.value
		default:
			return fmt.Errorf("unknown option for virtio-sound devices: %s", option.key)
		}
	}
	return nil
}

// InputNew creates a new input device of the given kind ("keyboard",
// "mouse" or "tablet").
func InputNew(kind string) (*Input, error) {
	return &Input{
		Kind: InputKind(kind),
	}, nil
}

func (dev *Input) ToCmdLine() ([]string, error) {
	if dev.Kind == "" {
		return nil, fmt.Errorf("virtio-input needs an input kind")
	}
	return []string{"--device", fmt.Sprintf("virtio-input,%s", dev.Kind)}, nil
}

func (dev *Input) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "keyboard", "mouse", "tablet":
			if option.value != "" {
				return fmt.Errorf("unexpected value for virtio-input '%s' option: %s", option.key, option.value)
			}
			dev.Kind = InputKind(option.key)
		default:
			return fmt.Errorf("unknown option for virtio-input devices: %s", option.key)
		}
	}
	return nil
}

// VirtioFsNew creates a new virtio-fs device sharing the directory at
// sharedDir with the virtual machine.
func VirtioFsNew(sharedDir string, mountTag string) (*VirtioFs, error) {
	return &VirtioFs{
		SharedDir: sharedDir,
		MountTag:  mountTag,
	}, nil
}

func (dev *VirtioFs) ToCmdLine() ([]string, error) {
	if dev.SharedDir == "" {
		return nil, fmt.Errorf("virtio-fs needs the path to the directory to share")
	}
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("virtio-fs,sharedDir=%s", dev.SharedDir))
	if dev.MountTag != "" {
		builder.WriteString(fmt.Sprintf(",mountTag=%s", dev.MountTag))
	}
	if dev.ReadOnly {
		builder.WriteString(",readonly")
	}
	return []string{"--device", builder.String()}, nil
}

func (dev *VirtioFs) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "sharedDir":
			dev.SharedDir = option.value
		case "mountTag":
			dev.MountTag = option.value
		case "driver":
			dev.Driver = option.value
		case "readonly":
			if option.value != "" {
				return fmt.Errorf("unexpected value for virtio-fs 'readonly' option: %s", option.value)
			}
			dev.ReadOnly = true
		default:
			return fmt.Errorf("unknown option for virtio-fs devices: %s", option.key)
		}
	}
	return nil
}

// RosettaShareNew creates a new share exposing the host's x86-64
// translation layer under mountTag.
func RosettaShareNew(mountTag string) (*RosettaShare, error) {
	return &RosettaShare{
		MountTag: mountTag,
	}, nil
}

func (dev *RosettaShare) ToCmdLine() ([]string, error) {
	if dev.MountTag == "" {
		return nil, fmt.Errorf("rosetta shares need a mount tag")
	}
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("rosetta,mountTag=%s", dev.MountTag))
	if dev.InstallRosetta {
		builder.WriteString(",install")
	}
	return []string{"--device", builder.String()}, nil
}

func (dev *RosettaShare) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "mountTag":
			dev.MountTag = option.value
		case "install":
			if option.value != "" {
				return fmt.Errorf("unexpected value for rosetta 'install' option: %s", option.value)
			}
			dev.InstallRosetta = true
		default:
			return fmt.Errorf("unknown option for rosetta shares: %s", option.key)
		}
	}
	return nil
}

// VirtioRngNew creates a new random number generator device to feed
// entropy into the virtual machine.
func VirtioRngNew() (*VirtioRng, error) {
	return &VirtioRng{}, nil
}

func (dev *VirtioRng) ToCmdLine() ([]string, error) {
	return []string{"--device", "virtio-rng"}, nil
}

func (dev *VirtioRng) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "backend":
			dev.Backend = option.value
		default:
			return fmt.Errorf("unknown option for virtio-rng devices: %s", option.key)
		}
	}
	return nil
}

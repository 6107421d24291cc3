package config

import (
	"fmt"
	"strings"
)

// Bootloader is the boot method of a domain: either direct kernel boot
// (LinuxBootloader) or EFI firmware boot (EFIBootloader).
type Bootloader interface {
	VMComponent
}

// LinuxBootloader boots a linux kernel directly, with an optional
// initrd and kernel command line.
type LinuxBootloader struct {
	VmlinuzPath   string `json:"vmlinuzPath"`
	KernelCmdLine string `json:"kernelCmdLine,omitempty"`
	InitrdPath    string `json:"initrdPath,omitempty"`
}

// EFIBootloader boots through EFI firmware backed by a persistent
// variable store. When VariableStorePath is empty the driver derives it
// from the domain name inside its configured NVRAM directory, creating
// the file if it does not exist yet.
type EFIBootloader struct {
	VariableStorePath   string `json:"variableStorePath,omitempty"`
	CreateVariableStore bool   `json:"createVariableStore,omitempty"`
}

// NewLinuxBootloader creates a new direct-boot configuration.
func NewLinuxBootloader(vmlinuzPath, kernelCmdLine, initrdPath string) *LinuxBootloader {
	return &LinuxBootloader{
		VmlinuzPath:   vmlinuzPath,
		KernelCmdLine: kernelCmdLine,
		InitrdPath:    initrdPath,
	}
}

// NewEFIBootloader creates a new EFI boot configuration using the
// variable store at efiVariableStorePath. The store is created when
// createVariableStore is set, opened as-is otherwise.
func NewEFIBootloader(efiVariableStorePath string, createVariableStore bool) *EFIBootloader {
	return &EFIBootloader{
		VariableStorePath:   efiVariableStorePath,
		CreateVariableStore: createVariableStore,
	}
}

func trimQuotes(str string) string {
	if strings.HasPrefix(str, `"`) && strings.HasSuffix(str, `"`) {
		str = strings.Trim(str, `"`)
	}

	return str
}

func (bootloader *LinuxBootloader) ToCmdLine() ([]string, error) {
	if bootloader.VmlinuzPath == "" {
		return nil, fmt.Errorf("linux bootloaders need a kernel path")
	}
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("linux,kernel=%s", bootloader.VmlinuzPath))
	if bootloader.InitrdPath != "" {
		builder.WriteString(fmt.Sprintf(",initrd=%s", bootloader.InitrdPath))
	}
	if bootloader.KernelCmdLine != "" {
		builder.WriteString(fmt.Sprintf(",cmdline=%s", bootloader.KernelCmdLine))
	}
	return []string{"--bootloader", builder.String()}, nil
}

func (bootloader *LinuxBootloader) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "kernel":
			bootloader.VmlinuzPath = option.value
		case "initrd":
			bootloader.InitrdPath = option.value
		case "cmdline":
			bootloader.KernelCmdLine = trimQuotes(option.value)
		default:
			return fmt.Errorf("unknown option for linux bootloaders: %s", option.key)
		}
	}
	return nil
}

func (bootloader *EFIBootloader) ToCmdLine() ([]string, error) {
	builder := strings.Builder{}
	builder.WriteString("efi")
	if bootloader.VariableStorePath != "" {
		builder.WriteString(fmt.Sprintf(",variable-store=%s", bootloader.VariableStorePath))
	}
	if bootloader.CreateVariableStore {
		builder.WriteString(",create")
	}
	return []string{"--bootloader", builder.String()}, nil
}

func (bootloader *EFIBootloader) FromOptions(options []option) error {
	for _, option := range options {
		switch option.key {
		case "variable-store":
			bootloader.VariableStorePath = option.value
		case "create":
			if option.value != "" {
				return fmt.Errorf("unexpected value for EFI bootloader 'create' option: %s", option.value)
			}
			bootloader.CreateVariableStore = true
		default:
			return fmt.Errorf("unknown option for EFI bootloaders: %s", option.key)
		}
	}
	return nil
}

// BootloaderFromCmdLine parses a --bootloader command line argument,
// e.g. "efi,variable-store=/path,create" or
// "linux,kernel=/path/vmlinuz,initrd=/path/initrd,cmdline=console=hvc0".
func BootloaderFromCmdLine(optsStrv []string) (Bootloader, error) {
	if len(optsStrv) < 1 {
		return nil, fmt.Errorf("empty bootloader command line")
	}
	var bootloader Bootloader

	switch optsStrv[0] {
	case "efi":
		bootloader = &EFIBootloader{}
	case "linux":
		bootloader = &LinuxBootloader{}
	default:
		return nil, fmt.Errorf("unknown bootloader type: %s", optsStrv[0])
	}

	options := strvToOptions(optsStrv[1:])
	if err := bootloader.FromOptions(options); err != nil {
		return nil, err
	}
	return bootloader, nil
}

package config

import (
	"encoding/json"
	"fmt"
)

// The technique for json (de)serialization was explained here:
// http://gregtrowbridge.com/golang-json-serialization-with-interfaces/

type vmComponentKind string

const (
	// Bootloader kinds
	efiBootloaderKind   vmComponentKind = "efiBootloader"
	linuxBootloaderKind vmComponentKind = "linuxBootloader"

	// Device kinds
	diskKind     vmComponentKind = "disk"
	netKind      vmComponentKind = "virtionet"
	serialKind   vmComponentKind = "serial"
	graphicsKind vmComponentKind = "graphics"
	soundKind    vmComponentKind = "sound"
	inputKind    vmComponentKind = "input"
	fsKind       vmComponentKind = "virtiofs"
	rosettaKind  vmComponentKind = "rosetta"
	rngKind      vmComponentKind = "virtiorng"
)

func unmarshalBootloader(rawMsg json.RawMessage) (Bootloader, error) {
	var (
		kind       string
		blmap      map[string]*json.RawMessage
		bootloader Bootloader
	)
	if err := json.Unmarshal(rawMsg, &blmap); err != nil {
		return nil, err
	}

	rawKind := blmap["kind"]
	if rawKind == nil {
		return nil, fmt.Errorf("missing 'kind' node")
	}
	if err := json.Unmarshal(*rawKind, &kind); err != nil {
		return nil, err
	}
	delete(blmap, "kind")
	b, err := json.Marshal(blmap)
	if err != nil {
		return nil, err
	}
	switch kind {
	case string(efiBootloaderKind):
		var efi EFIBootloader
		err = json.Unmarshal(b, &efi)
		if err == nil {
			bootloader = &efi
		}
	case string(linuxBootloaderKind):
		var linux LinuxBootloader
		err = json.Unmarshal(b, &linux)
		if err == nil {
			bootloader = &linux
		}
	default:
		return nil, fmt.Errorf("unknown 'kind' field: '%s'", kind)
	}
	if err != nil {
		return nil, err
	}

	return bootloader, nil
}

func unmarshalDevice(rawMsg json.RawMessage) (Device, error) {
	var (
		kind string
		dmap map[string]*json.RawMessage
		dev  Device
		err  error
	)
	if err := json.Unmarshal(rawMsg, &dmap); err != nil {
		return nil, err
	}
	rawKind := dmap["kind"]
	if rawKind == nil {
		return nil, fmt.Errorf("missing 'kind' node")
	}
	if err := json.Unmarshal(*rawKind, &kind); err != nil {
		return nil, err
	}
	delete(dmap, "kind")
	b, err := json.Marshal(dmap)
	if err != nil {
		return nil, err
	}
	switch kind {
	case string(diskKind):
		var newDevice Disk
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	case string(netKind):
		var newDevice VirtioNet
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	case string(serialKind):
		var newDevice Serial
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	case string(graphicsKind):
		var newDevice Graphics
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	case string(soundKind):
		var newDevice Sound
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	case string(inputKind):
		var newDevice Input
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	case string(fsKind):
		var newDevice VirtioFs
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	case string(rosettaKind):
		var newDevice RosettaShare
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	case string(rngKind):
		var newDevice VirtioRng
		err = json.Unmarshal(b, &newDevice)
		dev = &newDevice
	default:
		return nil, fmt.Errorf("unknown 'kind' field: '%s'", kind)
	}
	if err != nil {
		return nil, err
	}

	return dev, nil
}

// UnmarshalJSON is a custom deserializer for Domain. The custom work is
// needed because Domain uses interfaces in its struct and JSON cannot
// determine which implementation of the interface to deserialize to.
func (dom *Domain) UnmarshalJSON(b []byte) error {
	var (
		err   error
		input map[string]*json.RawMessage
	)

	if err := json.Unmarshal(b, &input); err != nil {
		return err
	}

	for idx, rawMsg := range input {
		if rawMsg == nil {
			continue
		}
		switch idx {
		case "name":
			err = json.Unmarshal(*rawMsg, &dom.Name)
		case "vcpus":
			err = json.Unmarshal(*rawMsg, &dom.Vcpus)
		case "memoryKiB":
			err = json.Unmarshal(*rawMsg, &dom.MemoryKiB)
		case "features":
			err = json.Unmarshal(*rawMsg, &dom.Features)
		case "bootloader":
			var bootloader Bootloader
			bootloader, err = unmarshalBootloader(*rawMsg)
			if err == nil {
				dom.Bootloader = bootloader
			}
		case "devices":
			var devices []*json.RawMessage
			err = json.Unmarshal(*rawMsg, &devices)
			if err != nil {
				return err
			}
			for _, msg := range devices {
				dev, err := unmarshalDevice(*msg)
				if err != nil {
					return err
				}
				dom.Devices = append(dom.Devices, dev)
			}
		}

		if err != nil {
			return err
		}
	}
	return nil
}

func (bootloader *EFIBootloader) MarshalJSON() ([]byte, error) {
	type blWithKind struct {
		Kind vmComponentKind `json:"kind"`
		EFIBootloader
	}
	return json.Marshal(blWithKind{
		Kind:          efiBootloaderKind,
		EFIBootloader: *bootloader,
	})
}

func (bootloader *LinuxBootloader) MarshalJSON() ([]byte, error) {
	type blWithKind struct {
		Kind vmComponentKind `json:"kind"`
		LinuxBootloader
	}
	return json.Marshal(blWithKind{
		Kind:            linuxBootloaderKind,
		LinuxBootloader: *bootloader,
	})
}

func (dev *Disk) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		Disk
	}
	return json.Marshal(devWithKind{
		Kind: diskKind,
		Disk: *dev,
	})
}

func (dev *VirtioNet) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		VirtioNet
	}
	return json.Marshal(devWithKind{
		Kind:      netKind,
		VirtioNet: *dev,
	})
}

func (dev *Serial) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		Serial
	}
	return json.Marshal(devWithKind{
		Kind:   serialKind,
		Serial: *dev,
	})
}

func (dev *Graphics) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		Graphics
	}
	return json.Marshal(devWithKind{
		Kind:     graphicsKind,
		Graphics: *dev,
	})
}

func (dev *Sound) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		Sound
	}
	return json.Marshal(devWithKind{
		Kind:  soundKind,
		Sound: *dev,
	})
}

func (dev *Input) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		Input
	}
	return json.Marshal(devWithKind{
		Kind:  inputKind,
		Input: *dev,
	})
}

func (dev *VirtioFs) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		VirtioFs
	}
	return json.Marshal(devWithKind{
		Kind:     fsKind,
		VirtioFs: *dev,
	})
}

func (dev *RosettaShare) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		RosettaShare
	}
	return json.Marshal(devWithKind{
		Kind:         rosettaKind,
		RosettaShare: *dev,
	})
}

func (dev *VirtioRng) MarshalJSON() ([]byte, error) {
	type devWithKind struct {
		Kind vmComponentKind `json:"kind"`
		VirtioRng
	}
	return json.Marshal(devWithKind{
		Kind:      rngKind,
		VirtioRng: *dev,
	})
}

//go:build !arm64

package vf

import "fmt"

func (dev *RosettaShare) AddToVirtualMachineConfig(_ *vzVirtualMachineConfiguration) error {
	return fmt.Errorf("rosetta is only supported on Apple silicon")
}

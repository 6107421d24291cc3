package vf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Code-Hex/vz/v3"
	log "github.com/sirupsen/logrus"

	"github.com/macvz/vzvmm/pkg/config"
)

func toVzLinuxBootloader(bootloader *config.LinuxBootloader) (vz.BootLoader, error) {
	return vz.NewLinuxBootLoader(
		bootloader.VmlinuzPath,
		vz.WithCommandLine(bootloader.KernelCmdLine),
		vz.WithInitrd(bootloader.InitrdPath),
	)
}

// variableStorePath returns the EFI variable store to use for the
// domain. An explicit path in the definition wins; otherwise the store
// lives in the engine's NVRAM directory, keyed by the domain name, so
// EFI variables survive restarts of the same domain.
func (e *Engine) variableStorePath(bootloader *config.EFIBootloader, domainName string) string {
	if bootloader.VariableStorePath != "" {
		return bootloader.VariableStorePath
	}
	return filepath.Join(e.opts.NVRAMDir, fmt.Sprintf("%s_VARS.fd", domainName))
}

func (e *Engine) toVzEFIBootloader(bootloader *config.EFIBootloader, domainName string) (vz.BootLoader, error) {
	var efiVariableStore *vz.EFIVariableStore
	var err error

	storePath := e.variableStorePath(bootloader, domainName)
	_, statErr := os.Stat(storePath)
	switch {
	case os.IsNotExist(statErr):
		if !bootloader.CreateVariableStore && bootloader.VariableStorePath != "" {
			return nil, fmt.Errorf("missing EFI variable store %s: %w", storePath, statErr)
		}
		log.Infof("creating EFI variable store %s", storePath)
		if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
			return nil, err
		}
		efiVariableStore, err = vz.NewEFIVariableStore(storePath, vz.WithCreatingEFIVariableStore())
	case statErr != nil:
		return nil, statErr
	default:
		efiVariableStore, err = vz.NewEFIVariableStore(storePath)
	}
	if err != nil {
		return nil, err
	}

	return vz.NewEFIBootLoader(
		vz.WithEFIVariableStore(efiVariableStore),
	)
}

func (e *Engine) toVzBootloader(bootloader config.Bootloader, domainName string) (vz.BootLoader, error) {
	switch b := bootloader.(type) {
	case *config.LinuxBootloader:
		return toVzLinuxBootloader(b)
	case *config.EFIBootloader:
		return e.toVzEFIBootloader(b, domainName)
	default:
		return nil, fmt.Errorf("unexpected bootloader type: %T", b)
	}
}

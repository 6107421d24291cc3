//go:build darwin
// +build darwin

/*
Copyright 2021, Red Hat, Inc - All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	log "github.com/sirupsen/logrus"

	"github.com/macvz/vzvmm/pkg/cmdline"
	"github.com/macvz/vzvmm/pkg/config"
	"github.com/macvz/vzvmm/pkg/driver"
	"github.com/macvz/vzvmm/pkg/process"
	"github.com/macvz/vzvmm/pkg/rest"
	"github.com/macvz/vzvmm/pkg/vf"
)

func newBootloaderConfiguration(opts *cmdline.Options) (config.Bootloader, error) {
	return config.BootloaderFromCmdLine(opts.Bootloader)
}

func definitionFromFile(path string) (*config.Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def config.Domain
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid domain definition %s: %w", path, err)
	}
	return &def, nil
}

func newDomainDefinition(opts *cmdline.Options) (*config.Domain, error) {
	if opts.ConfigPath != "" {
		return definitionFromFile(opts.ConfigPath)
	}

	bootloader, err := newBootloaderConfiguration(opts)
	if err != nil {
		return nil, err
	}
	log.Infof("boot parameters: %+v", bootloader)

	memoryKiB := opts.MemoryMiB * uint64(units.MiB/units.KiB)
	def := config.NewDomain(opts.Name, opts.Vcpus, memoryKiB, bootloader)
	def.Features.NestedVirt = opts.NestedVirt
	log.Info("domain parameters:")
	log.Infof("\tname: %s", opts.Name)
	log.Infof("\tvCPUs: %d", opts.Vcpus)
	log.Infof("\tmemory: %d MiB", opts.MemoryMiB)

	if err := def.AddDevicesFromCmdLine(opts.Devices); err != nil {
		return nil, err
	}
	return def, nil
}

func destroyActiveDomains(vmDriver *driver.Driver) {
	for _, vm := range vmDriver.Domains().List() {
		state, _ := vm.State()
		if !state.IsActive() {
			continue
		}
		if err := vmDriver.Destroy(vm.Name); err != nil {
			log.Errorf("failed to destroy domain %s: %v", vm.Name, err)
		}
	}
}

// waitForShutoff blocks until the domain reaches shutoff or the process
// receives a termination signal, in which case the domain is destroyed.
func waitForShutoff(vmDriver *driver.Driver, vm *driver.Domain) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case s := <-signalCh:
			log.Infof("received signal %v, destroying domain %s", s, vm.Name)
			destroyActiveDomains(vmDriver)
			return
		case <-ticker.C:
			state, reason := vm.State()
			if state == driver.DomainShutoff {
				log.Infof("domain %s is shut off (%s)", vm.Name, reason)
				return
			}
		}
	}
}

func waitForSignal(vmDriver *driver.Driver) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	s := <-signalCh
	log.Infof("received signal %v, destroying active domains", s)
	destroyActiveDomains(vmDriver)
}

func runDriver(opts *cmdline.Options) error {
	if opts.LogLevel != "" {
		level, err := log.ParseLevel(opts.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}

	if opts.PidFilePath != "" {
		daemon := process.New("vzvmm", opts.PidFilePath)
		if err := daemon.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := daemon.Release(); err != nil {
				log.Warnf("cannot remove pid file: %v", err)
			}
		}()
	}

	engine, err := vf.NewEngine(vf.Options{
		NVRAMDir: opts.NVRAMDir,
	})
	if err != nil {
		return err
	}
	vmDriver := driver.New(engine, driver.Config{
		Privileged:       opts.Privileged,
		OperationTimeout: time.Duration(opts.TimeoutSeconds) * time.Second,
	})

	var initialDomain *driver.Domain
	if opts.ConfigPath != "" || len(opts.Bootloader) > 0 {
		def, err := newDomainDefinition(opts)
		if err != nil {
			return err
		}
		initialDomain, err = vmDriver.CreateAndStart(def, opts.Persistent)
		if err != nil {
			return err
		}
	}

	if opts.RestfulURI != cmdline.DefaultRestfulURI {
		srv, err := rest.NewServer(vmDriver, opts.RestfulURI)
		if err != nil {
			return err
		}
		srv.Start()
		waitForSignal(vmDriver)
		return nil
	}

	if initialDomain == nil {
		return fmt.Errorf("nothing to do: no initial domain and no restful service")
	}
	waitForShutoff(vmDriver, initialDomain)
	return nil
}

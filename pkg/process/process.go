/*
Copyright 2025, Red Hat, Inc - All rights reserved.

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

// Package process guards against concurrent driver daemons through a
// pid file. Only one daemon may own the per-host virtualization state
// (VMID allocator, NVRAM directory) at a time.
package process

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

type Daemon struct {
	Name        string
	PidFilePath string
}

func New(name, pidFilePath string) *Daemon {
	return &Daemon{Name: name, PidFilePath: pidFilePath}
}

func (d *Daemon) ReadPidFile() (int, error) {
	data, err := os.ReadFile(d.PidFilePath)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.ParseInt(pidStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid pid file: %w", err)
	}
	return int(pid), nil
}

func (d *Daemon) findProcess() (*process.Process, error) {
	pid, err := d.ReadPidFile()
	if err != nil {
		return nil, err
	}
	if pid < 0 || pid > math.MaxInt32 {
		return nil, fmt.Errorf("invalid pid: %d", pid)
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil && err.Error() == "process does not exist" {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, os.ErrNotExist
	}
	name, err := proc.Name()
	if err != nil {
		return nil, fmt.Errorf("cannot find process name: %w", err)
	}
	if name != d.Name {
		return nil, os.ErrNotExist
	}
	return proc, nil
}

// Exists reports whether another live daemon owns the pid file. A stale
// pid file left behind by a crashed daemon does not count.
func (d *Daemon) Exists() (bool, error) {
	proc, err := d.findProcess()
	if err != nil && (errors.Is(err, os.ErrNotExist) || os.IsNotExist(err)) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if proc == nil {
		return false, nil
	}
	return true, nil
}

// Acquire claims the pid file for the current process. It fails when a
// live daemon already owns it.
func (d *Daemon) Acquire() error {
	exists, err := d.Exists()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("another %s daemon is already running", d.Name)
	}
	return d.WritePidFile(os.Getpid())
}

// Release removes the pid file. Only the owning daemon should call it.
func (d *Daemon) Release() error {
	return os.Remove(d.PidFilePath)
}

func (d *Daemon) WritePidFile(pid int) error {
	return os.WriteFile(d.PidFilePath, []byte(strconv.Itoa(pid)), 0600)
}

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

package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testDaemon(t *testing.T) *Daemon {
	return New("test-daemon", filepath.Join(t.TempDir(), "test-daemon.pid"))
}

func TestPidFileRoundTrip(t *testing.T) {
	daemon := testDaemon(t)

	require.NoError(t, daemon.WritePidFile(12345))
	pid, err := daemon.ReadPidFile()
	require.NoError(t, err)
	require.Equal(t, 12345, pid)
}

func TestReadPidFileMissing(t *testing.T) {
	daemon := testDaemon(t)

	_, err := daemon.ReadPidFile()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadPidFileInvalid(t *testing.T) {
	daemon := testDaemon(t)
	require.NoError(t, os.WriteFile(daemon.PidFilePath, []byte("not-a-pid"), 0600))

	_, err := daemon.ReadPidFile()
	require.ErrorContains(t, err, "invalid pid file")
}

func TestExistsWithoutPidFile(t *testing.T) {
	daemon := testDaemon(t)

	exists, err := daemon.Exists()
	require.NoError(t, err)
	require.False(t, exists)
}

func TestExistsWithWrongProcessName(t *testing.T) {
	daemon := testDaemon(t)
	// pid 1 is always alive but never named test-daemon
	require.NoError(t, daemon.WritePidFile(1))

	exists, err := daemon.Exists()
	require.NoError(t, err)
	require.False(t, exists)
}

func TestAcquireAndRelease(t *testing.T) {
	daemon := testDaemon(t)

	require.NoError(t, daemon.Acquire())
	pid, err := daemon.ReadPidFile()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	require.NoError(t, daemon.Release())
	_, err = os.Stat(daemon.PidFilePath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestAcquireWithLiveDaemon(t *testing.T) {
	daemon := testDaemon(t)
	// impersonate the current test process
	self := New(processName(t), daemon.PidFilePath)
	require.NoError(t, self.WritePidFile(os.Getpid()))

	err := self.Acquire()
	require.ErrorContains(t, err, "already running")
}

func processName(t *testing.T) string {
	exe, err := os.Executable()
	require.NoError(t, err)
	return filepath.Base(exe)
}

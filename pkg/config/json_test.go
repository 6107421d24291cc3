package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type jsonTest struct {
	newDomain    func(*testing.T) *Domain
	expectedJSON string
}

var jsonTests = map[string]jsonTest{
	"TestLinuxDomain": {
		newDomain:    newLinuxDomain,
		expectedJSON: `{"name":"test","vcpus":3,"memoryKiB":2097152,"features":{},"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz","kernelCmdLine":"console=hvc0","initrdPath":"/initrd"}}`,
	},
	"TestEFIDomain": {
		newDomain:    newEFIDomain,
		expectedJSON: `{"name":"test","vcpus":3,"memoryKiB":2097152,"features":{},"bootloader":{"kind":"efiBootloader","variableStorePath":"/variable-store"}}`,
	},
	"TestNestedVirt": {
		newDomain: func(t *testing.T) *Domain {
			dom := newLinuxDomain(t)
			dom.Features.NestedVirt = true
			return dom
		},
		expectedJSON: `{"name":"test","vcpus":3,"memoryKiB":2097152,"features":{"nestedVirt":true},"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz","kernelCmdLine":"console=hvc0","initrdPath":"/initrd"}}`,
	},
	"TestVirtioRng": {
		newDomain: func(t *testing.T) *Domain {
			dom := newLinuxDomain(t)
			dev, err := VirtioRngNew()
			require.NoError(t, err)
			dom.AddDevice(dev)
			return dom
		},
		expectedJSON: `{"name":"test","vcpus":3,"memoryKiB":2097152,"features":{},"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz","kernelCmdLine":"console=hvc0","initrdPath":"/initrd"},"devices":[{"kind":"virtiorng"}]}`,
	},
	"TestMultipleDisks": {
		newDomain: func(t *testing.T) *Domain {
			dom := newLinuxDomain(t)
			disk, err := VirtioBlkNew("/disk1")
			require.NoError(t, err)
			dom.AddDevice(disk)
			disk, err = VirtioBlkNew("/disk2")
			require.NoError(t, err)
			disk.ReadOnly = true
			dom.AddDevice(disk)
			return dom
		},
		expectedJSON: `{"name":"test","vcpus":3,"memoryKiB":2097152,"features":{},"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz","kernelCmdLine":"console=hvc0","initrdPath":"/initrd"},"devices":[{"kind":"disk","source":"file","bus":"virtio","path":"/disk1"},{"kind":"disk","source":"file","bus":"virtio","path":"/disk2","readOnly":true}]}`,
	},
	"TestNetworkBlockDevice": {
		newDomain: func(t *testing.T) *Domain {
			dom := newLinuxDomain(t)
			disk, err := NetworkBlockDeviceNew("example.com", 10809, "export1")
			require.NoError(t, err)
			dom.AddDevice(disk)
			return dom
		},
		expectedJSON: `{"name":"test","vcpus":3,"memoryKiB":2097152,"features":{},"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz","kernelCmdLine":"console=hvc0","initrdPath":"/initrd"},"devices":[{"kind":"disk","source":"nbd","bus":"virtio","hosts":[{"name":"example.com","port":10809}],"export":"export1"}]}`,
	},
	"TestAllDevices": {
		newDomain: func(t *testing.T) *Domain {
			dom := newLinuxDomain(t)
			// serial console
			serial, err := SerialNew("/console.log")
			require.NoError(t, err)
			dom.AddDevice(serial)
			// input
			input, err := InputNew("keyboard")
			require.NoError(t, err)
			dom.AddDevice(input)
			// graphics
			graphics, err := GraphicsNew(5900)
			require.NoError(t, err)
			dom.AddDevice(graphics)
			// network
			virtioNet, err := VirtioNetNew("00:11:22:33:44:55")
			require.NoError(t, err)
			dom.AddDevice(virtioNet)
			// entropy
			rng, err := VirtioRngNew()
			require.NoError(t, err)
			dom.AddDevice(rng)
			// disk
			disk, err := VirtioBlkNew("/virtioblk")
			require.NoError(t, err)
			dom.AddDevice(disk)
			// sound
			sound, err := SoundNew()
			require.NoError(t, err)
			dom.AddDevice(sound)
			// directory share
			fs, err := VirtioFsNew("/virtiofs", "tag")
			require.NoError(t, err)
			dom.AddDevice(fs)
			// rosetta
			rosetta, err := RosettaShareNew("vz-rosetta")
			require.NoError(t, err)
			dom.AddDevice(rosetta)

			return dom
		},
		expectedJSON: `{"name":"test","vcpus":3,"memoryKiB":2097152,"features":{},"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz","kernelCmdLine":"console=hvc0","initrdPath":"/initrd"},"devices":[{"kind":"serial","source":"file","logFile":"/console.log"},{"kind":"input","type":"keyboard"},{"kind":"graphics","type":"vnc","port":5900},{"kind":"virtionet","attachment":"user","macAddress":"ABEiM0RV"},{"kind":"virtiorng"},{"kind":"disk","source":"file","bus":"virtio","path":"/virtioblk"},{"kind":"sound"},{"kind":"virtiofs","sharedDir":"/virtiofs","mountTag":"tag"},{"kind":"rosetta","mountTag":"vz-rosetta"}]}`,
	},
}

type invalidJSONTest struct {
	json string
}

var invalidJSONTests = map[string]invalidJSONTest{
	"TestEmptyBootloaderKind": {
		json: `{"name":"test","vcpus":3,"memoryKiB":2097152,"bootloader":{"kind":"","vmlinuzPath":"/vmlinuz"}}`,
	},
	"TestInvalidBootloaderKind": {
		json: `{"name":"test","vcpus":3,"memoryKiB":2097152,"bootloader":{"kind":"invalid","vmlinuzPath":"/vmlinuz"}}`,
	},
	"TestMissingBootloaderKind": {
		json: `{"name":"test","vcpus":3,"memoryKiB":2097152,"bootloader":{"vmlinuzPath":"/vmlinuz"}}`,
	},
	"TestEmptyDeviceKind": {
		json: `{"name":"test","vcpus":3,"memoryKiB":2097152,"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz"},"devices":[{"kind":"","source":"file","bus":"virtio","path":"/disk1"}]}`,
	},
	"TestInvalidDeviceKind": {
		json: `{"name":"test","vcpus":3,"memoryKiB":2097152,"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz"},"devices":[{"kind":"invalid","source":"file","bus":"virtio","path":"/disk1"}]}`,
	},
	"TestMissingDeviceKind": {
		json: `{"name":"test","vcpus":3,"memoryKiB":2097152,"bootloader":{"kind":"linuxBootloader","vmlinuzPath":"/vmlinuz"},"devices":[{"source":"file","bus":"virtio","path":"/disk1"}]}`,
	},
}

func TestJSON(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		for name := range jsonTests {
			t.Run(name, func(t *testing.T) {
				test := jsonTests[name]
				testJSON(t, &test)
			})
		}
		for name := range invalidJSONTests {
			t.Run(name, func(t *testing.T) {
				test := invalidJSONTests[name]
				testInvalidJSON(t, &test)
			})
		}
	})
}

func testJSON(t *testing.T, test *jsonTest) {
	dom := test.newDomain(t)
	data, err := json.Marshal(dom)
	require.NoError(t, err)
	require.JSONEq(t, test.expectedJSON, string(data))

	var unmarshalled Domain
	err = json.Unmarshal([]byte(test.expectedJSON), &unmarshalled)
	require.NoError(t, err)

	require.Equal(t, *dom, unmarshalled)
}

func testInvalidJSON(t *testing.T, test *invalidJSONTest) {
	var dom Domain
	err := json.Unmarshal([]byte(test.json), &dom)
	require.Error(t, err)
}

func newLinuxDomain(*testing.T) *Domain {
	bootloader := NewLinuxBootloader("/vmlinuz", "console=hvc0", "/initrd")
	return NewDomain("test", 3, 2*1024*1024, bootloader)
}

func newEFIDomain(*testing.T) *Domain {
	bootloader := NewEFIBootloader("/variable-store", false)
	return NewDomain("test", 3, 2*1024*1024, bootloader)
}

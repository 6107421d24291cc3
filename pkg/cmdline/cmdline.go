package cmdline

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// DefaultRestfulURI disables the restful service.
const DefaultRestfulURI = "none://"

// Options is the full set of command line options understood by the
// vzvmm binary.
type Options struct {
	// host-side driver settings
	NVRAMDir       string
	Privileged     bool
	TimeoutSeconds uint
	RestfulURI     string
	PidFilePath    string
	LogLevel       string

	// initial domain, started at boot when a bootloader or a config
	// file is given
	Name       string
	Vcpus      uint
	MemoryMiB  uint64
	Bootloader []string
	Devices    []string
	ConfigPath string
	Persistent bool
	NestedVirt bool
}

func AddFlags(cmd *cobra.Command, opts *Options) {
	addDriverFlags(cmd.Flags(), opts)
	addDomainFlags(cmd.Flags(), opts)
}

func addDriverFlags(flags *pflag.FlagSet, opts *Options) {
	flags.StringVar(&opts.NVRAMDir, "nvram-dir", "", "directory holding the EFI variable stores, one per domain")
	flags.BoolVar(&opts.Privileged, "privileged", false, "run in privileged mode, allowing raw block device disks")
	flags.UintVar(&opts.TimeoutSeconds, "timeout", 0, "seconds to wait for an engine start/stop operation, 0 waits forever")
	flags.StringVar(&opts.RestfulURI, "restful-uri", DefaultRestfulURI, "URI of the restful service, tcp://host:port or unix:///path/to/socket")
	flags.StringVar(&opts.PidFilePath, "pidfile", "", "path to the pid file guarding against concurrent daemons")
	flags.StringVar(&opts.LogLevel, "log-level", "", "set log level (debug, info, warn, error)")
}

func addDomainFlags(flags *pflag.FlagSet, opts *Options) {
	flags.StringVar(&opts.Name, "name", "vm", "name of the initial domain")
	flags.UintVar(&opts.Vcpus, "cpus", 1, "number of virtual CPUs of the initial domain")
	flags.Uint64Var(&opts.MemoryMiB, "memory", 512, "RAM size of the initial domain in mibibytes")
	flags.StringSliceVar(&opts.Bootloader, "bootloader", nil, "bootloader configuration of the initial domain")
	flags.StringArrayVar(&opts.Devices, "device", nil, "devices of the initial domain")
	flags.StringVar(&opts.ConfigPath, "config", "", "path to a JSON domain definition for the initial domain")
	flags.BoolVar(&opts.Persistent, "persistent", false, "keep the initial domain registered after destroy")
	flags.BoolVar(&opts.NestedVirt, "nested", false, "enable nested virtualization for the initial domain")
}

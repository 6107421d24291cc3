//go:build darwin
// +build darwin

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/macvz/vzvmm/pkg/cmdline"
)

const vzvmmVersion = "0.1.0"

var opts = &cmdline.Options{}

var rootCmd = &cobra.Command{
	Use:   "vzvmm",
	Short: "vzvmm is a virtual machine driver using Apple's virtualization framework",
	Long: `A virtual machine driver written in Go using Apple's virtualization framework
                to run and manage linux virtual machines over a restful service.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runDriver(opts)
	},
	Version: version(),
}

func version() string {
	if v := cmdline.Version(); v != "" {
		return v
	}
	return vzvmmVersion
}

func init() {
	cmdline.AddFlags(rootCmd, opts)

	versionTmpl := `{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version: %s" .Version}}
`
	rootCmd.SetVersionTemplate(versionTmpl)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// Sherpa daemon - multi-user network lab orchestrator.
//
// sherpa serve runs the control plane: a WebSocket RPC endpoint over
// which operators bring labs up, tear them down, and manage images and
// accounts. State lives in Redis; workloads run under libvirt/QEMU and
// Docker on this host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sherpa-network/sherpa/pkg/config"
	"github.com/sherpa-network/sherpa/pkg/version"
)

var baseDir string

func main() {
	root := &cobra.Command{
		Use:   "sherpa",
		Short: "Network lab orchestration daemon",
		Long: `Sherpa deploys ephemeral network labs from TOML manifests: QEMU/libvirt
VMs and Docker containers wired together with kernel bridges and veth
pairs, with per-lab management networks and ZTP-seeded configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseDir, "base", config.DefaultBaseDir(),
		"base directory for config, images, labs, and logs")

	root.AddCommand(newServeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sherpa " + version.Info())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Sherpactl - operator CLI for the sherpa daemon.
//
// Talks to the control plane over its WebSocket RPC endpoint. A session
// token obtained with "sherpactl login" is cached at ~/.sherpa/token and
// attached to every call.
//
//	sherpactl login alice
//	sherpactl lab up topo.toml
//	sherpactl lab list
//	sherpactl lab inspect a1b2c3d4
//	sherpactl lab destroy a1b2c3d4
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sherpa-network/sherpa/pkg/cli"
	"github.com/sherpa-network/sherpa/pkg/client"
	"github.com/sherpa-network/sherpa/pkg/rpc"
	"github.com/sherpa-network/sherpa/pkg/version"
)

var (
	serverURL  string
	jsonOutput bool

	// callTimeout bounds ordinary RPCs. Lab bring-up gets its own, much
	// longer bound in cmd_lab.go.
	callTimeout = 30 * time.Second
)

func main() {
	root := &cobra.Command{
		Use:           "sherpactl",
		Short:         "Operator CLI for the sherpa lab daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", client.ServerURL(),
		"daemon URL (also SHERPA_SERVER_URL)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON output")

	root.AddCommand(newLoginCmd())
	root.AddCommand(newLogoutCmd())
	root.AddCommand(newLabCmd())
	root.AddCommand(newImageCmd())
	root.AddCommand(newUserCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sherpactl " + version.Info())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.Red("error:"), err)
		os.Exit(1)
	}
}

// connect dials the daemon with the cached session token.
func connect(ctx context.Context, opts ...client.Option) (*client.Client, error) {
	token, err := client.RequireToken()
	if err != nil {
		return nil, err
	}
	opts = append([]client.Option{client.WithToken(token)}, opts...)
	return client.Dial(ctx, serverURL, opts...)
}

// call is the one-shot pattern shared by most commands: dial, invoke,
// hang up.
func call(method string, params, out interface{}, opts ...client.Option) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	c, err := connect(ctx, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Call(ctx, method, params, out)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// renderStatus prints server status frames (progress, waiting) as they
// arrive during long-running calls.
func renderStatus(st *rpc.Status) {
	switch st.Kind {
	case rpc.StatusProgress:
		if st.Progress != nil {
			fmt.Printf("  [%d/%d] %s %s\n",
				st.Progress.PhaseNumber, st.Progress.TotalPhases,
				cli.DotPad(st.Progress.CurrentPhase, 24), st.Message)
			return
		}
		fmt.Printf("  %s\n", st.Message)
	case rpc.StatusWaiting:
		fmt.Printf("  %s\n", cli.Yellow(st.Message))
	case rpc.StatusDone:
		fmt.Printf("  %s\n", cli.Green(st.Message))
	default:
		fmt.Printf("  %s\n", st.Message)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sherpa-network/sherpa/pkg/cli"
	"github.com/sherpa-network/sherpa/pkg/client"
	"github.com/sherpa-network/sherpa/pkg/rpc"
)

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Stream the daemon log (replays recent entries first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := connect(ctx, client.WithLogFunc(printLogFrame))
			if err != nil {
				return err
			}
			defer c.Close()

			var resp rpc.OKResponse
			if err := c.Call(ctx, rpc.MethodLogSubscribe, rpc.TokenParams{}, &resp); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, cli.Dim("following daemon log, ^C to stop"))
			<-ctx.Done()
			return nil
		},
	}
}

func printLogFrame(lg *rpc.Log) {
	level := strings.ToUpper(lg.Level)
	switch lg.Level {
	case "error":
		level = cli.Red(level)
	case "warning":
		level = cli.Yellow(level)
	}
	line := fmt.Sprintf("%s %-7s %s", lg.Timestamp.Format("15:04:05"), level, lg.Message)
	if len(lg.Context) > 0 {
		keys := make([]string, 0, len(lg.Context))
		for k := range lg.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, lg.Context[k]))
		}
		line += " " + cli.Dim(strings.Join(parts, " "))
	}
	fmt.Println(line)
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check daemon and subsystem health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var info rpc.ServerInfoResponse
			if err := call(rpc.MethodServerInfo, rpc.TokenParams{}, &info); err != nil {
				return err
			}

			probe := func(name string, ok bool) {
				mark := cli.Green("ok")
				if !ok {
					mark = cli.Red("unreachable")
				}
				fmt.Printf("  %s %s\n", cli.DotPad(name, 24), mark)
			}
			fmt.Printf("sherpa %s on %s: %d labs, %d users, %d images\n",
				info.Version, info.ListenAddr, info.Labs, info.Users, info.Images)
			probe("redis store", info.StoreOK)
			probe("libvirt", info.LibvirtOK)
			probe("docker", info.DockerOK)

			// The image scan doubles as a consistency check; skip it for
			// non-admins rather than failing the whole diagnosis.
			var scan rpc.ImageScanResponse
			if err := call(rpc.MethodImageScan, rpc.TokenParams{}, &scan); err != nil {
				fmt.Printf("  %s %s\n", cli.DotPad("image registry", 24), cli.Dim("skipped: "+err.Error()))
				return nil
			}
			dirty := 0
			for _, r := range scan.Results {
				if r.Action != "ok" {
					dirty++
				}
			}
			if dirty == 0 {
				probe("image registry", true)
			} else {
				fmt.Printf("  %s %s\n", cli.DotPad("image registry", 24),
					cli.Yellow(fmt.Sprintf("%d entries need attention (sherpactl image scan)", dirty)))
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sherpa-network/sherpa/pkg/cli"
	"github.com/sherpa-network/sherpa/pkg/client"
	"github.com/sherpa-network/sherpa/pkg/lab"
	"github.com/sherpa-network/sherpa/pkg/rpc"
)

// Lab lifecycle calls can take as long as a slow VM boot.
const labCallTimeout = 30 * time.Minute

func newLabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lab",
		Short: "Deploy and manage labs",
	}
	cmd.AddCommand(newLabUpCmd())
	cmd.AddCommand(newLabDestroyCmd())
	cmd.AddCommand(newLabDownCmd())
	cmd.AddCommand(newLabResumeCmd())
	cmd.AddCommand(newLabListCmd())
	cmd.AddCommand(newLabInspectCmd())
	return cmd
}

func newLabUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up <manifest.toml>",
		Short: "Deploy a lab from a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), labCallTimeout)
			defer cancel()
			c, err := connect(ctx, client.WithStatusFunc(renderStatus))
			if err != nil {
				return err
			}
			defer c.Close()

			var summary lab.UpSummary
			err = c.Call(ctx, rpc.MethodUp, rpc.UpParams{Manifest: string(manifest)}, &summary)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(summary)
			}

			fmt.Println()
			if summary.Success {
				fmt.Printf("%s lab %s (%s) up in %s\n",
					cli.Green("ok:"), cli.Bold(summary.LabID), summary.Name, summary.Elapsed)
			} else {
				fmt.Printf("%s lab %s (%s) came up partially in %s\n",
					cli.Yellow("partial:"), cli.Bold(summary.LabID), summary.Name, summary.Elapsed)
			}
			printNodeTable(summary.Nodes)
			for _, e := range summary.Errors {
				target := e.Phase
				if e.Node != "" {
					target += "/" + e.Node
				}
				fmt.Printf("  %s %s: %s\n", cli.Red("failed"), target, e.Message)
			}
			if !summary.Success {
				return fmt.Errorf("bring-up incomplete, inspect with: sherpactl lab inspect %s", summary.LabID)
			}
			return nil
		},
	}
}

func newLabDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <lab-id>",
		Short: "Tear a lab down and reclaim its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), labCallTimeout)
			defer cancel()
			c, err := connect(ctx, client.WithStatusFunc(renderStatus))
			if err != nil {
				return err
			}
			defer c.Close()

			var summary lab.DestroySummary
			err = c.Call(ctx, rpc.MethodDestroy, rpc.LabParams{LabID: args[0]}, &summary)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(summary)
			}
			for _, f := range summary.Failed {
				fmt.Printf("  %s %s %s: %s\n", cli.Red("failed"), f.Step, f.Resource, f.Message)
			}
			if !summary.Success {
				return fmt.Errorf("teardown incomplete, re-run destroy to retry")
			}
			fmt.Printf("%s lab %s destroyed (%d resources reclaimed)\n",
				cli.Green("ok:"), summary.LabID, len(summary.Removed))
			return nil
		},
	}
}

func newLabDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down <lab-id>",
		Short: "Suspend a lab's virtual machines",
		Args:  cobra.ExactArgs(1),
		RunE:  vmActionRunE(rpc.MethodDown),
	}
}

func newLabResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <lab-id>",
		Short: "Resume a suspended lab",
		Args:  cobra.ExactArgs(1),
		RunE:  vmActionRunE(rpc.MethodResume),
	}
}

func vmActionRunE(method string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var resp rpc.LabVmActionResponse
		if err := call(method, rpc.LabParams{LabID: args[0]}, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		for _, r := range resp.Results {
			mark := cli.Green("ok")
			if !r.OK {
				mark = cli.Red("failed")
			}
			line := fmt.Sprintf("  %s %s %s", cli.DotPad(r.Domain, 30), r.Action, mark)
			if r.Detail != "" {
				line += " (" + r.Detail + ")"
			}
			fmt.Println(line)
		}
		return nil
	}
}

func newLabListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List labs visible to you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp rpc.ListLabsResponse
			if err := call(rpc.MethodListLabs, rpc.TokenParams{}, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(resp)
			}
			if len(resp.Labs) == 0 {
				fmt.Println("no labs")
				return nil
			}
			t := cli.NewTable("LAB ID", "NAME", "OWNER", "NODES", "CREATED")
			for _, l := range resp.Labs {
				t.Row(l.LabID, l.Name, l.Owner, fmt.Sprintf("%d", l.Nodes), l.CreatedAt)
			}
			t.Flush()
			return nil
		},
	}
}

func newLabInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <lab-id>",
		Short: "Show everything known about a lab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var detail lab.LabDetail
			if err := call(rpc.MethodInspect, rpc.LabParams{LabID: args[0]}, &detail); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(detail)
			}

			fmt.Printf("%s %s  owner %s  created %s\n",
				cli.Bold(detail.LabID), detail.Name, detail.Owner, detail.CreatedAt)
			fmt.Printf("  loopbacks %s  mgmt %s\n", detail.LoopbackNetwork, detail.MgmtNetwork)
			fmt.Println()
			printNodeTable(detail.Nodes)

			if len(detail.Links) > 0 {
				fmt.Println()
				t := cli.NewTable("LINK", "KIND", "A", "B").WithPrefix("  ")
				for _, l := range detail.Links {
					t.Row(fmt.Sprintf("%d", l.Index), l.Kind, l.A, l.B)
				}
				t.Flush()
			}
			for _, b := range detail.Bridges {
				fmt.Printf("\n  bridge %s: %s\n", cli.Bold(b.Name), strings.Join(b.Members, ", "))
			}
			return nil
		},
	}
}

func printNodeTable(nodes []lab.NodeStatus) {
	t := cli.NewTable("NODE", "MODEL", "STATE", "MGMT IP").WithPrefix("  ")
	for _, n := range nodes {
		state := n.State
		switch state {
		case "running":
			state = cli.Green(state)
		case "failed":
			state = cli.Red(state)
		case "paused":
			state = cli.Yellow(state)
		}
		t.Row(n.Name, n.Model, state, n.MgmtIPv4)
	}
	t.Flush()
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sherpa-network/sherpa/pkg/cli"
	"github.com/sherpa-network/sherpa/pkg/client"
	"github.com/sherpa-network/sherpa/pkg/rpc"
)

func newLoginCmd() *cobra.Command {
	var remember bool
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate and cache a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()
			c, err := client.Dial(ctx, serverURL)
			if err != nil {
				return err
			}
			defer c.Close()

			var resp rpc.LoginResponse
			err = c.Call(ctx, rpc.MethodLogin, rpc.LoginParams{
				Username: args[0],
				Password: password,
				Remember: remember,
			}, &resp)
			if err != nil {
				return err
			}
			if err := client.SaveToken(resp.Token); err != nil {
				return fmt.Errorf("cache session token: %w", err)
			}
			fmt.Printf("%s logged in as %s (session expires %s)\n",
				cli.Green("ok:"), resp.Username, resp.ExpiresAt)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remember, "remember", false, "request a long-lived session")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the cached session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.ClearToken(); err != nil {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}

// promptPassword reads a password without echo. Falls back to plain line
// input when stdin is not a terminal (piped scripts).
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sherpa-network/sherpa/pkg/cli"
	"github.com/sherpa-network/sherpa/pkg/rpc"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserDeleteCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserPasswdCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var admin bool
	var sshKeys []string
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			var resp rpc.OKResponse
			err = call(rpc.MethodCreateUser, rpc.CreateUserParams{
				Username: args[0],
				Password: password,
				IsAdmin:  admin,
				SSHKeys:  sshKeys,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Printf("%s created user %s\n", cli.Green("ok:"), args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin privileges")
	cmd.Flags().StringArrayVar(&sshKeys, "ssh-key", nil, "authorized SSH public key (repeatable)")
	return cmd
}

func newUserDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete an account (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp rpc.OKResponse
			err := call(rpc.MethodDeleteUser, rpc.DeleteUserParams{Username: args[0]}, &resp)
			if err != nil {
				return err
			}
			fmt.Printf("%s deleted user %s\n", cli.Green("ok:"), args[0])
			return nil
		},
	}
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp rpc.ListUsersResponse
			if err := call(rpc.MethodListUsers, rpc.TokenParams{}, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(resp)
			}
			t := cli.NewTable("USERNAME", "ADMIN", "CREATED")
			for _, u := range resp.Users {
				admin := ""
				if u.IsAdmin {
					admin = "yes"
				}
				t.Row(u.Username, admin, u.CreatedAt)
			}
			t.Flush()
			return nil
		},
	}
}

func newUserPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd [username]",
		Short: "Change a password (your own, or anyone's as admin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			var resp rpc.OKResponse
			err = call(rpc.MethodChangePassword, rpc.ChangePasswordParams{
				Username:    target,
				NewPassword: password,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Printf("%s password changed\n", cli.Green("ok:"))
			return nil
		},
	}
}

// promptNewPassword asks for a password twice and insists the entries
// match.
func promptNewPassword() (string, error) {
	first, err := promptPassword("New password: ")
	if err != nil {
		return "", err
	}
	second, err := promptPassword("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

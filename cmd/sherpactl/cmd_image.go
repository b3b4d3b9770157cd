package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sherpa-network/sherpa/pkg/cli"
	"github.com/sherpa-network/sherpa/pkg/images"
	"github.com/sherpa-network/sherpa/pkg/rpc"
)

func newImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage node images (admin)",
	}
	cmd.AddCommand(newImageImportCmd())
	cmd.AddCommand(newImagePullCmd())
	cmd.AddCommand(newImageScanCmd())
	cmd.AddCommand(newImageListCmd())
	return cmd
}

func newImageImportCmd() *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "import <model> <version> <path>",
		Short: "Import a disk image into the registry",
		Long: `Import copies a qcow2 disk image from a path on the daemon host into
the registry tree and records it for the given model and version.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result images.ImportResult
			err := call(rpc.MethodImportImage, rpc.ImportImageParams{
				Model:   args[0],
				Version: args[1],
				Src:     args[2],
				Latest:  latest,
			}, &result)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(result)
			}
			mark := ""
			if result.Default {
				mark = " (default)"
			}
			fmt.Printf("%s imported %s %s%s -> %s\n",
				cli.Green("ok:"), result.Model, result.Version, mark, result.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", true, "mark this version as the model default")
	return cmd
}

func newImagePullCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "pull <repo>",
		Short: "Pull a container image onto the daemon host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result rpc.ContainerPullResponse
			err := call(rpc.MethodPullContainerImage, rpc.PullImageParams{
				Repo: args[0],
				Tag:  tag,
			}, &result)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(result)
			}
			fmt.Printf("%s pulled %s:%s\n", cli.Green("ok:"), result.Repo, result.Tag)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "latest", "image tag")
	return cmd
}

func newImageScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Reconcile the image registry with the disk tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp rpc.ImageScanResponse
			if err := call(rpc.MethodImageScan, rpc.TokenParams{}, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(resp)
			}
			if len(resp.Results) == 0 {
				fmt.Println("registry clean, nothing to reconcile")
				return nil
			}
			for _, r := range resp.Results {
				fmt.Printf("  %s %s %s\n", cli.DotPad(r.Model+" "+r.Version, 36), "", r.Action)
			}
			return nil
		},
	}
}

func newImageListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp rpc.ListImagesResponse
			if err := call(rpc.MethodListImages, rpc.TokenParams{}, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(resp)
			}
			if len(resp.Images) == 0 {
				fmt.Println("no images registered")
				return nil
			}
			t := cli.NewTable("MODEL", "KIND", "VERSION", "DEFAULT", "CREATED")
			for _, img := range resp.Images {
				def := ""
				if img.Default {
					def = "*"
				}
				t.Row(img.Model, img.Kind, img.Version, def, img.CreatedAt)
			}
			t.Flush()
			return nil
		},
	}
}

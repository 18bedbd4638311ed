package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quaylabs/slipway/internal/adapters/builder"
	"github.com/quaylabs/slipway/internal/adapters/docker"
	"github.com/quaylabs/slipway/internal/adapters/verify"
	"github.com/quaylabs/slipway/internal/core/domain"
	"github.com/quaylabs/slipway/internal/core/ports"
)

func newBuildCmd(c *cli) *cobra.Command {
	var (
		repo       string
		contextDir string
		descFile   string
		image      string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an image from a descriptor and its build context",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" && contextDir == "" {
				contextDir = "."
			}
			req := ports.BuildRequest{
				RepoURL:    repo,
				ContextDir: contextDir,
				ImageRef:   image,
				Output:     os.Stdout,
			}
			if descFile != "" {
				desc, err := domain.LoadDescriptor(descFile)
				if err != nil {
					return err
				}
				req.Descriptor = desc
			}
			b, err := builder.New(c.log)
			if err != nil {
				return err
			}
			res, err := b.BuildImage(cmd.Context(), req)
			if err != nil {
				return err
			}
			cmd.Printf("built %s (%s)\n", res.ImageRef, res.ImageID)
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "git URL to build from")
	cmd.Flags().StringVar(&contextDir, "context", "", "local build context directory")
	cmd.Flags().StringVar(&descFile, "descriptor", "", "descriptor file (default: slipway.yaml in the context)")
	cmd.Flags().StringVar(&image, "image", "", "image reference to tag on success")
	return cmd
}

func newDeployCmd(c *cli) *cobra.Command {
	var (
		app      string
		image    string
		port     int
		hostPort int
		noEnv    bool
		pull     bool
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Start a container for a built image with its port published",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app == "" || image == "" {
				return fmt.Errorf("--app and --image are required")
			}
			runtime, err := docker.New(c.log)
			if err != nil {
				return err
			}
			dep, err := runtime.Deploy(cmd.Context(), ports.DeployOptions{
				App:      app,
				Image:    image,
				Port:     port,
				HostPort: hostPort,
				EnvPort:  !noEnv,
				Pull:     pull,
			})
			if err != nil {
				return err
			}
			cmd.Printf("deployed %s as %s on host port %d\n", dep.App, dep.ID, dep.Port)
			return nil
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "application name")
	cmd.Flags().StringVar(&image, "image", "", "image reference to run")
	cmd.Flags().IntVar(&port, "port", domain.DefaultPort, "port the app listens on inside the container")
	cmd.Flags().IntVar(&hostPort, "host-port", 0, "host port to publish (0 picks an ephemeral one)")
	cmd.Flags().BoolVar(&noEnv, "no-env-port", false, "do not inject the PORT variable")
	cmd.Flags().BoolVar(&pull, "pull", false, "pull the image before deploying")
	return cmd
}

func newVerifyCmd(c *cli) *cobra.Command {
	var descFile string
	cmd := &cobra.Command{
		Use:   "verify <deployment-id>",
		Short: "Run smoke checks against a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := docker.New(c.log)
			if err != nil {
				return err
			}
			dep, err := runtime.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var desc *domain.Descriptor
			if descFile != "" {
				if desc, err = domain.LoadDescriptor(descFile); err != nil {
					return err
				}
			}
			results, err := verify.New(runtime, c.log).Verify(cmd.Context(), *dep, desc)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				mark := "ok"
				if !r.OK {
					mark = "FAIL"
					failed++
				}
				cmd.Printf("%-18s %s  %s\n", r.Name, mark, r.Detail)
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&descFile, "descriptor", "", "descriptor file enabling the browser check")
	return cmd
}

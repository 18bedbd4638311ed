package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/adapters/dockerfile"
	"github.com/quaylabs/slipway/internal/adapters/registry"
	"github.com/quaylabs/slipway/internal/core/domain"
)

func newRenderCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "render [descriptor]",
		Short: "Render a descriptor into its Dockerfile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := domain.LoadDescriptor(descriptorArg(args))
			if err != nil {
				return err
			}
			rendered, err := dockerfile.Render(desc)
			if err != nil {
				return err
			}
			if out == "" {
				cmd.Print(rendered)
				return nil
			}
			return os.WriteFile(out, []byte(rendered), 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the Dockerfile to a file instead of stdout")
	return cmd
}

func newLintCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <Dockerfile>",
		Short: "Check a Dockerfile against the build contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			problems := dockerfile.Lint(string(raw))
			errs := 0
			for _, p := range problems {
				if p.Severity == dockerfile.SeverityError {
					errs++
				}
				cmd.Printf("%s:%d: %s: %s (%s)\n", args[0], p.Line, p.Severity, p.Message, p.Code)
			}
			if errs > 0 {
				return fmt.Errorf("%d contract violation(s)", errs)
			}
			return nil
		},
	}
}

func newPinCmd(c *cli) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "pin [descriptor]",
		Short: "Pin the descriptor's base image to its current digest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := descriptorArg(args)
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			desc, err := domain.DecodeDescriptor(raw)
			if err != nil {
				return err
			}
			ref, err := desc.ParseReference()
			if err != nil {
				return err
			}
			resolver, err := registry.New()
			if err != nil {
				return err
			}
			dgst, err := resolver.ResolveDigest(cmd.Context(), ref.String())
			if err != nil {
				return err
			}
			desc.Base.Digest = dgst
			desc.Pin = domain.PinDigest
			if err := desc.Validate(); err != nil {
				return err
			}
			c.log.Info("pinned base image",
				zap.String("ref", ref.String()),
				zap.String("digest", dgst))
			if write {
				return desc.Save(file)
			}
			pinned, err := desc.Reference()
			if err != nil {
				return err
			}
			cmd.Println(pinned)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "rewrite the descriptor file in place")
	return cmd
}

func descriptorArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return domain.DescriptorFileName
}

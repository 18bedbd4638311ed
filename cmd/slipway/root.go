package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/config"
	"github.com/quaylabs/slipway/internal/logging"
)

// cli carries state shared by all commands, resolved once in the persistent
// pre-run.
type cli struct {
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "slipway",
		Short:         "Build, verify and launch browser-runtime web apps",
		Long:          "slipway turns a build descriptor into a built, smoke-tested, running container image.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			log, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				c.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (defaults plus SLIPWAY_* environment)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override configured log level")

	cmd.AddCommand(
		newServeCmd(c),
		newRenderCmd(c),
		newLintCmd(c),
		newPinCmd(c),
		newBuildCmd(c),
		newDeployCmd(c),
		newVerifyCmd(c),
	)
	return cmd
}

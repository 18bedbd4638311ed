package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/adapters/builder"
	"github.com/quaylabs/slipway/internal/adapters/docker"
	slipwayhttp "github.com/quaylabs/slipway/internal/adapters/http"
	"github.com/quaylabs/slipway/internal/adapters/registry"
	"github.com/quaylabs/slipway/internal/adapters/verify"
	"github.com/quaylabs/slipway/internal/buildqueue"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane API and preview proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(c)
		},
	}
}

func runServe(c *cli) error {
	runtime, err := docker.New(c.log)
	if err != nil {
		return fmt.Errorf("init deployment runtime: %w", err)
	}
	builds, err := builder.New(c.log)
	if err != nil {
		return fmt.Errorf("init builder: %w", err)
	}
	resolver, err := registry.New()
	if err != nil {
		return fmt.Errorf("init registry resolver: %w", err)
	}

	queue := buildqueue.New(builds, c.log, c.cfg.BuildWorkers, c.cfg.BuildBacklog)
	defer queue.Shutdown()
	verifier := verify.New(runtime, c.log)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	proxy := slipwayhttp.NewProxyHandler(runtime, c.cfg.ProxyDomain, c.log)
	app.Use(proxy.ProxyRequest)

	handler := slipwayhttp.NewHandler(runtime, queue, verifier, resolver, c.log)
	handler.Register(app)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", c.cfg.ListenPort))
	}()
	c.log.Info("control plane listening",
		zap.Int("port", c.cfg.ListenPort),
		zap.String("proxy_domain", c.cfg.ProxyDomain))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		c.log.Info("shutting down")
		return app.Shutdown()
	}
}

// Package docker implements the deployment runtime on the Docker engine.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/core/domain"
	"github.com/quaylabs/slipway/internal/core/ports"
)

// Label marking containers this control plane owns.
const appLabel = "slipway.app"

// Adapter implements ports.DeploymentService using the Docker SDK.
type Adapter struct {
	cli *client.Client
	log *zap.Logger
}

// New creates a Docker-backed deployment adapter.
func New(log *zap.Logger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, log: log}, nil
}

// ListDeployments returns the deployments this control plane created,
// identified by label.
func (a *Adapter) ListDeployments(ctx context.Context) ([]domain.Deployment, error) {
	containers, err := a.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", appLabel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var result []domain.Deployment
	for _, c := range containers {
		d := domain.Deployment{
			ID:     c.ID[:12],
			App:    c.Labels[appLabel],
			Image:  c.Image,
			Status: c.Status,
			State:  c.State,
		}
		for _, p := range c.Ports {
			if p.PublicPort != 0 {
				d.Port = int(p.PublicPort)
				break
			}
		}
		result = append(result, d)
	}
	return result, nil
}

// Deploy creates and starts a container for a built image, publishing the
// app port and, when asked, injecting it through the PORT variable so the
// process and the published port cannot disagree.
func (a *Adapter) Deploy(ctx context.Context, opts ports.DeployOptions) (*domain.Deployment, error) {
	if opts.Pull {
		reader, err := a.cli.ImagePull(ctx, opts.Image, types.ImagePullOptions{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBaseImageUnresolvable, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	appPort, err := nat.NewPort("tcp", strconv.Itoa(opts.Port))
	if err != nil {
		return nil, fmt.Errorf("invalid port %d: %w", opts.Port, err)
	}
	hostPort := ""
	if opts.HostPort != 0 {
		hostPort = strconv.Itoa(opts.HostPort)
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Labels:       map[string]string{appLabel: opts.App},
		ExposedPorts: nat.PortSet{appPort: struct{}{}},
	}
	if opts.EnvPort {
		cfg.Env = append(cfg.Env, domain.PortEnvVar+"="+strconv.Itoa(opts.Port))
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			appPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}},
		},
	}

	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.App)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := a.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	a.log.Info("deployed",
		zap.String("app", opts.App),
		zap.String("image", opts.Image),
		zap.String("container", resp.ID[:12]))

	return a.Inspect(ctx, resp.ID)
}

// Stop stops a deployment's container.
func (a *Adapter) Stop(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return a.cli.ContainerStop(ctx, id, container.StopOptions{})
}

// Logs returns the deployment's log stream.
func (a *Adapter) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return a.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	})
}

// Exec runs a command inside a deployment and returns its exit code and
// combined output.
func (a *Adapter) Exec(ctx context.Context, id string, cmd []string) (int, string, error) {
	execResp, err := a.cli.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to create exec: %w", err)
	}
	attach, err := a.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return 0, "", fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, attach.Reader); err != nil {
		return 0, "", fmt.Errorf("failed to read exec output: %w", err)
	}
	inspect, err := a.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return 0, "", fmt.Errorf("failed to inspect exec: %w", err)
	}
	return inspect.ExitCode, out.String(), nil
}

// Inspect resolves a deployment's current state, published host port and
// internal address.
func (a *Adapter) Inspect(ctx context.Context, id string) (*domain.Deployment, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	d := &domain.Deployment{ID: info.ID[:12]}
	if info.Config != nil {
		d.Image = info.Config.Image
		d.App = info.Config.Labels[appLabel]
	}
	if info.State != nil {
		d.State = info.State.Status
		d.Status = info.State.Status
	}
	if info.NetworkSettings != nil {
		d.Internal = info.NetworkSettings.IPAddress
		for _, bindings := range info.NetworkSettings.Ports {
			for _, b := range bindings {
				if n, err := strconv.Atoi(b.HostPort); err == nil && n != 0 {
					d.Port = n
				}
			}
		}
	}
	return d, nil
}

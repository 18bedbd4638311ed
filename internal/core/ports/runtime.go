package ports

import (
	"context"
	"io"

	"github.com/quaylabs/slipway/internal/core/domain"
)

// DeployOptions shape the container created for an image.
type DeployOptions struct {
	App      string
	Image    string
	Port     int  // container port the app listens on
	HostPort int  // 0 lets the runtime pick an ephemeral host port
	EnvPort  bool // inject PORT=<Port> into the container environment
	Pull     bool
}

// DeploymentService defines the core operations for running built images.
// Keeping this behind an interface lets the control plane swap Docker for
// another runtime without touching the handlers.
type DeploymentService interface {
	ListDeployments(ctx context.Context) ([]domain.Deployment, error)
	Deploy(ctx context.Context, opts DeployOptions) (*domain.Deployment, error)
	Stop(ctx context.Context, id string) error
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	Exec(ctx context.Context, id string, cmd []string) (int, string, error)
	Inspect(ctx context.Context, id string) (*domain.Deployment, error)
}

package ports

import (
	"context"

	"github.com/quaylabs/slipway/internal/core/domain"
)

// CheckResult is one smoke check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Verifier runs post-build smoke checks against a deployment: the served
// port answers HTTP, and the provisioned browser engine launches headlessly.
type Verifier interface {
	Verify(ctx context.Context, dep domain.Deployment, desc *domain.Descriptor) ([]CheckResult, error)
}

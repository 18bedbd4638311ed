// Package registry resolves mutable image references to immutable digests.
package registry

import (
	"context"
	"fmt"

	"github.com/distribution/reference"
	"github.com/docker/docker/client"

	"github.com/quaylabs/slipway/internal/core/domain"
)

// Resolver implements ports.DigestResolver against the engine's
// distribution endpoint.
type Resolver struct {
	cli *client.Client
}

func New() (*Resolver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Resolver{cli: cli}, nil
}

// ResolveDigest asks the registry what the reference currently points at and
// returns the content-addressed digest, the immutable form a descriptor pins
// to. A reference the registry cannot resolve is exactly the unresolvable
// base image failure a pinned build avoids.
func (r *Resolver) ResolveDigest(ctx context.Context, ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", domain.ErrInvalidDescriptor, ref, err)
	}
	named = reference.TagNameOnly(named)

	inspect, err := r.cli.DistributionInspect(ctx, named.String(), "")
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", domain.ErrBaseImageUnresolvable, ref, err)
	}
	return inspect.Descriptor.Digest.String(), nil
}

// Package builder builds descriptor-driven images with the Docker engine.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/adapters/dockerfile"
	"github.com/quaylabs/slipway/internal/core/domain"
	"github.com/quaylabs/slipway/internal/core/ports"
)

// Dockerfile name written into the context. Kept distinct so an existing
// Dockerfile in the source is never clobbered; the descriptor is the source
// of truth for the build.
const renderedFileName = "Dockerfile.slipway"

// Adapter implements ports.BuilderService using the Docker SDK.
type Adapter struct {
	cli *client.Client
	log *zap.Logger
}

func New(log *zap.Logger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, log: log}, nil
}

// BuildImage prepares a build context (cloning it first when the source is a
// git URL), renders the Dockerfile from the descriptor, and runs the build.
// Any failing step aborts the whole build; no partial image is tagged.
func (a *Adapter) BuildImage(ctx context.Context, req ports.BuildRequest) (*ports.BuildResult, error) {
	contextDir := req.ContextDir
	if req.RepoURL != "" {
		tmpDir, err := os.MkdirTemp("", "slipway-build-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		a.log.Info("cloning source", zap.String("repo", req.RepoURL))
		_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
			URL:   req.RepoURL,
			Depth: 1, // shallow clone, history is irrelevant to a build
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clone repo: %w", err)
		}
		contextDir = tmpDir
	}
	if contextDir == "" {
		return nil, fmt.Errorf("%w: build request needs a repo URL or a context dir", domain.ErrInvalidDescriptor)
	}

	desc := req.Descriptor
	if desc == nil {
		var err error
		desc, err = domain.LoadDescriptor(filepath.Join(contextDir, domain.DescriptorFileName))
		if err != nil {
			return nil, err
		}
	}
	if err := a.checkInputs(contextDir, desc); err != nil {
		return nil, err
	}

	rendered, err := dockerfile.Render(desc)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(contextDir, renderedFileName), []byte(rendered), 0o644); err != nil {
		return nil, fmt.Errorf("write rendered dockerfile: %w", err)
	}

	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildCtx.Close()

	imageRef := req.ImageRef
	if imageRef == "" {
		imageRef = desc.App + ":" + uuid.NewString()[:8]
	}

	a.log.Info("building image",
		zap.String("app", desc.App),
		zap.String("image", imageRef),
		zap.Bool("pinned", desc.Pinned()))

	resp, err := a.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{imageRef},
		Dockerfile:  renderedFileName,
		Remove:      true, // no intermediate containers left behind
		ForceRemove: true,
		PullParent:  !desc.Pinned(),
	})
	if err != nil {
		return nil, a.classifyEngineError(err)
	}
	defer resp.Body.Close()

	imageID, err := decodeBuildStream(resp.Body, req.Output)
	if err != nil {
		a.log.Warn("build aborted", zap.String("app", desc.App), zap.Error(err))
		return nil, err
	}

	a.log.Info("build succeeded", zap.String("image", imageRef), zap.String("id", imageID))
	return &ports.BuildResult{ImageID: imageID, ImageRef: imageRef}, nil
}

// checkInputs verifies the descriptor's declared files actually exist in the
// context before the engine is involved, so the diagnostic names the missing
// input rather than a failed COPY step.
func (a *Adapter) checkInputs(contextDir string, desc *domain.Descriptor) error {
	for field, rel := range map[string]string{"manifest": desc.Manifest, "entry file": desc.Entry.File} {
		if _, err := os.Stat(filepath.Join(contextDir, rel)); err != nil {
			return fmt.Errorf("%w: %s %q not found in build context", domain.ErrInvalidDescriptor, field, rel)
		}
	}
	return nil
}

// classifyEngineError maps a pre-stream daemon rejection into the build
// error taxonomy.
func (a *Adapter) classifyEngineError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "manifest unknown") || strings.Contains(msg, "pull access denied") {
		return &domain.BuildError{Detail: msg, Cause: domain.ErrBaseImageUnresolvable}
	}
	return &domain.BuildError{Detail: msg, Cause: domain.ErrBuildFailed}
}

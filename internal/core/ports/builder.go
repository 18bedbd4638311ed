package ports

import (
	"context"
	"io"

	"github.com/quaylabs/slipway/internal/core/domain"
)

// BuildRequest names the inputs of one image build. Exactly one of RepoURL
// and ContextDir is set; when Descriptor is nil the builder loads it from the
// context's slipway.yaml.
type BuildRequest struct {
	Descriptor *domain.Descriptor
	RepoURL    string
	ContextDir string
	ImageRef   string    // tag applied on success
	Output     io.Writer // step log sink, may be nil
}

// BuildResult is returned only for fully successful builds.
type BuildResult struct {
	ImageID  string
	ImageRef string
}

// BuilderService turns a build request into a tagged image. Any failing step
// aborts the whole build; the returned error unwraps to one of the build
// error sentinels in domain.
type BuilderService interface {
	BuildImage(ctx context.Context, req BuildRequest) (*BuildResult, error)
}

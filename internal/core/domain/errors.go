package domain

import "errors"

// Build-time error taxonomy. Every failure class is fatal: a build either
// fully completes or aborts without tagging a partial image.
var (
	// ErrInvalidDescriptor covers descriptor invariant violations caught
	// before any build step runs.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrBaseImageUnresolvable means the FROM reference could not be pulled:
	// typically a deprecated or mistyped version tag.
	ErrBaseImageUnresolvable = errors.New("base image unresolvable")

	// ErrDependencyInstall means the package manager could not satisfy the
	// dependency manifest.
	ErrDependencyInstall = errors.New("dependency installation failed")

	// ErrBrowserProvision means the named engine or its OS packages could not
	// be installed, usually an engine name the installed automation library
	// version does not know.
	ErrBrowserProvision = errors.New("browser provisioning failed")

	// ErrBuildFailed is the catch-all for build steps outside the classified
	// taxonomy.
	ErrBuildFailed = errors.New("build failed")
)

// BuildError carries the failing step alongside the classified cause, so the
// operator sees which directive aborted the build.
type BuildError struct {
	Step   string // the build directive that failed, as logged by the builder
	Detail string // raw diagnostic from the build engine
	Cause  error  // one of the taxonomy sentinels above
}

func (e *BuildError) Error() string {
	if e.Step == "" {
		return e.Cause.Error() + ": " + e.Detail
	}
	return e.Cause.Error() + " at step " + e.Step + ": " + e.Detail
}

func (e *BuildError) Unwrap() error { return e.Cause }

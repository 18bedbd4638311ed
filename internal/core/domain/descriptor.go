package domain

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

// PinPolicy controls how the base image reference is resolved at build time.
type PinPolicy string

const (
	// PinDigest builds from an immutable content-addressed reference.
	PinDigest PinPolicy = "digest"
	// PinTag builds from a fixed, human-readable (but mutable) tag.
	PinTag PinPolicy = "tag"
	// PinFloating builds from whatever the tag currently points at.
	PinFloating PinPolicy = "floating"
)

const (
	// DefaultPort is the port the served application listens on unless the
	// descriptor says otherwise.
	DefaultPort = 8000

	// DefaultEntryObject is the module-level object name the startup server
	// resolves. The served application must export it under exactly this name.
	DefaultEntryObject = "app"

	// PortEnvVar is the variable the container reads its listen port from when
	// the descriptor enables env-driven ports.
	PortEnvVar = "PORT"
)

// Engines supported by the browser automation runtime bundled in the base
// image. Keyed for O(1) validation.
var supportedEngines = map[string]struct{}{
	"chromium": {},
	"firefox":  {},
	"webkit":   {},
	"chrome":   {},
	"msedge":   {},
}

// BaseImage identifies the image the build extends. The image is expected to
// bundle the browser automation runtime and matching browser binaries.
type BaseImage struct {
	Name   string `yaml:"name" json:"name"`
	Tag    string `yaml:"tag,omitempty" json:"tag,omitempty"`
	Digest string `yaml:"digest,omitempty" json:"digest,omitempty"`
}

// Entry describes the single application file copied into the image and the
// object the ASGI server imports from it.
type Entry struct {
	File   string `yaml:"file" json:"file"`
	Object string `yaml:"object,omitempty" json:"object,omitempty"`
}

// Module returns the import module derived from the entry file name.
func (e Entry) Module() string {
	return strings.TrimSuffix(path.Base(e.File), path.Ext(e.File))
}

// Target returns the module:object string passed to the startup server.
func (e Entry) Target() string {
	obj := e.Object
	if obj == "" {
		obj = DefaultEntryObject
	}
	return e.Module() + ":" + obj
}

// Browser is the optional provisioning step that installs a specific engine
// on top of whatever the base image already bundles. Guards against version
// skew between the bundled browser and the installed automation library.
type Browser struct {
	Engine   string `yaml:"engine" json:"engine"`
	WithDeps bool   `yaml:"withDeps" json:"withDeps"`
}

// Descriptor is the build contract: everything needed to turn a dependency
// manifest and an entry file into a runnable image. The listen port appears
// exactly once here; the exposed-port metadata and the startup command are
// both derived from it, so they cannot drift apart.
type Descriptor struct {
	App         string    `yaml:"app" json:"app"`
	Base        BaseImage `yaml:"base" json:"base"`
	Pin         PinPolicy `yaml:"pin,omitempty" json:"pin,omitempty"`
	Manifest    string    `yaml:"manifest,omitempty" json:"manifest,omitempty"`
	Browser     *Browser  `yaml:"browser,omitempty" json:"browser,omitempty"`
	Entry       Entry     `yaml:"entry" json:"entry"`
	Port        int       `yaml:"port,omitempty" json:"port,omitempty"`
	PortFromEnv *bool     `yaml:"portFromEnv,omitempty" json:"portFromEnv,omitempty"`
}

// EnvPort reports whether the container reads its listen port from the
// environment. Omitting the field means yes; fixed ports must be asked for.
func (d *Descriptor) EnvPort() bool {
	return d.PortFromEnv == nil || *d.PortFromEnv
}

// DescriptorFileName is the conventional descriptor location inside a build
// context.
const DescriptorFileName = "slipway.yaml"

// Normalize fills in defaults. Call before Validate.
func (d *Descriptor) Normalize() {
	if d.Pin == "" {
		d.Pin = PinDigest
	}
	if d.Manifest == "" {
		d.Manifest = "requirements.txt"
	}
	if d.Entry.Object == "" {
		d.Entry.Object = DefaultEntryObject
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.PortFromEnv == nil {
		envPort := true
		d.PortFromEnv = &envPort
	}
}

// Validate checks every build-time invariant. All failures are fatal to a
// build; none are recoverable at runtime.
func (d *Descriptor) Validate() error {
	if d.App == "" {
		return fmt.Errorf("%w: app name is required", ErrInvalidDescriptor)
	}
	if !validAppName(d.App) {
		return fmt.Errorf("%w: app name %q must be lowercase alphanumerics and dashes", ErrInvalidDescriptor, d.App)
	}
	if _, err := d.ParseReference(); err != nil {
		return err
	}
	switch d.Pin {
	case PinDigest:
		if d.Base.Digest == "" {
			return fmt.Errorf("%w: pin policy %q requires base.digest", ErrInvalidDescriptor, PinDigest)
		}
	case PinTag:
		if d.Base.Tag == "" {
			return fmt.Errorf("%w: pin policy %q requires base.tag", ErrInvalidDescriptor, PinTag)
		}
	case PinFloating:
	default:
		return fmt.Errorf("%w: unknown pin policy %q", ErrInvalidDescriptor, d.Pin)
	}
	if d.Base.Digest != "" {
		if _, err := digest.Parse(d.Base.Digest); err != nil {
			return fmt.Errorf("%w: base.digest: %v", ErrInvalidDescriptor, err)
		}
	}
	if err := validContextPath("manifest", d.Manifest); err != nil {
		return err
	}
	if err := validContextPath("entry.file", d.Entry.File); err != nil {
		return err
	}
	if d.Browser != nil {
		if _, ok := supportedEngines[d.Browser.Engine]; !ok {
			return fmt.Errorf("%w: unsupported engine %q", ErrInvalidDescriptor, d.Browser.Engine)
		}
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, d.Port)
	}
	return nil
}

// ParseReference parses the base image fields into a single normalized
// reference honoring the pin policy: digest wins over tag when both are set
// and the policy is PinDigest.
func (d *Descriptor) ParseReference() (reference.Reference, error) {
	if d.Base.Name == "" {
		return nil, fmt.Errorf("%w: base.name is required", ErrInvalidDescriptor)
	}
	ref, err := reference.ParseNormalizedNamed(d.Base.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: base.name %q: %v", ErrInvalidDescriptor, d.Base.Name, err)
	}
	if d.Pin == PinDigest && d.Base.Digest != "" {
		dgst, err := digest.Parse(d.Base.Digest)
		if err != nil {
			return nil, fmt.Errorf("%w: base.digest: %v", ErrInvalidDescriptor, err)
		}
		return reference.WithDigest(reference.TrimNamed(ref), dgst)
	}
	if d.Base.Tag != "" {
		return reference.WithTag(ref, d.Base.Tag)
	}
	return ref, nil
}

// Reference returns the image reference string the build file starts FROM.
func (d *Descriptor) Reference() (string, error) {
	ref, err := d.ParseReference()
	if err != nil {
		return "", err
	}
	if named, ok := ref.(reference.Named); ok {
		return reference.FamiliarString(named), nil
	}
	return ref.String(), nil
}

// Pinned reports whether the descriptor builds from an immutable reference.
func (d *Descriptor) Pinned() bool {
	return d.Pin == PinDigest && d.Base.Digest != ""
}

// LoadDescriptor reads and normalizes a descriptor from a YAML file. The
// returned descriptor is validated; a descriptor that fails its invariants
// never reaches a builder.
func LoadDescriptor(file string) (*Descriptor, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	return ParseDescriptor(raw)
}

// ParseDescriptor parses descriptor YAML, applies defaults and validates.
func ParseDescriptor(raw []byte) (*Descriptor, error) {
	d, err := DecodeDescriptor(raw)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodeDescriptor parses and normalizes descriptor YAML without checking
// invariants. Used where a not-yet-valid descriptor is expected, e.g. when
// pinning one that has no digest yet.
func DecodeDescriptor(raw []byte) (*Descriptor, error) {
	var d Descriptor
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	d.Normalize()
	return &d, nil
}

// Save writes the descriptor to a YAML file.
func (d *Descriptor) Save(file string) error {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := os.WriteFile(file, raw, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

func validAppName(name string) bool {
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-' && i > 0 && i < len(name)-1:
		default:
			return false
		}
	}
	return len(name) > 0
}

// validContextPath rejects absolute paths and paths that escape the build
// context. Descriptor paths are always resolved relative to the context
// root; the check runs on the cleaned path so segments like a/../../b
// cannot smuggle the traversal past a literal prefix test.
func validContextPath(field, p string) error {
	if p == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidDescriptor, field)
	}
	clean := path.Clean(p)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %s %q must stay inside the build context", ErrInvalidDescriptor, field, p)
	}
	return nil
}

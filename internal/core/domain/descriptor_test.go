package domain

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "sha256:3e0b6e1e2c8a17ed277505b4c9e175948e00e2fc6e2e9832a55ee70e4cb04f43"

func validDescriptor() *Descriptor {
	return &Descriptor{
		App:      "crawler-api",
		Base:     BaseImage{Name: "mcr.microsoft.com/playwright/python", Tag: "v1.47.0-noble"},
		Pin:      PinTag,
		Manifest: "requirements.txt",
		Browser:  &Browser{Engine: "chromium", WithDeps: true},
		Entry:    Entry{File: "main.py", Object: "app"},
		Port:     8000,
	}
}

func TestDescriptorNormalize(t *testing.T) {
	d := &Descriptor{
		App:   "crawler-api",
		Base:  BaseImage{Name: "mcr.microsoft.com/playwright/python", Tag: "v1.47.0-noble"},
		Entry: Entry{File: "main.py"},
	}
	d.Normalize()

	assert.Equal(t, PinDigest, d.Pin)
	assert.Equal(t, "requirements.txt", d.Manifest)
	assert.Equal(t, "app", d.Entry.Object)
	assert.Equal(t, DefaultPort, d.Port)
	require.NotNil(t, d.PortFromEnv)
	assert.True(t, *d.PortFromEnv, "env-driven ports are the default")
}

func TestEnvPortDefault(t *testing.T) {
	t.Run("omitted means env-driven", func(t *testing.T) {
		d, err := ParseDescriptor([]byte(`
app: crawler-api
base:
  name: mcr.microsoft.com/playwright/python
  tag: v1.47.0-noble
pin: tag
entry:
  file: main.py
`))
		require.NoError(t, err)
		assert.True(t, d.EnvPort())
		require.NotNil(t, d.PortFromEnv)
		assert.True(t, *d.PortFromEnv)
	})

	t.Run("explicit false survives normalization", func(t *testing.T) {
		d, err := ParseDescriptor([]byte(`
app: crawler-api
base:
  name: mcr.microsoft.com/playwright/python
  tag: v1.47.0-noble
pin: tag
entry:
  file: main.py
portFromEnv: false
`))
		require.NoError(t, err)
		assert.False(t, d.EnvPort())
	})
}

func TestDescriptorValidate(t *testing.T) {
	t.Run("accepts a complete descriptor", func(t *testing.T) {
		require.NoError(t, validDescriptor().Validate())
	})

	t.Run("requires an app name", func(t *testing.T) {
		d := validDescriptor()
		d.App = ""
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)
	})

	t.Run("rejects app names with uppercase or spaces", func(t *testing.T) {
		for _, name := range []string{"Crawler", "crawler api", "-crawler", "crawler-"} {
			d := validDescriptor()
			d.App = name
			assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor, "name %q", name)
		}
	})

	t.Run("digest policy requires a digest", func(t *testing.T) {
		d := validDescriptor()
		d.Pin = PinDigest
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)

		d.Base.Digest = testDigest
		assert.NoError(t, d.Validate())
	})

	t.Run("tag policy requires a tag", func(t *testing.T) {
		d := validDescriptor()
		d.Base.Tag = ""
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)
	})

	t.Run("rejects malformed digests", func(t *testing.T) {
		d := validDescriptor()
		d.Base.Digest = "sha256:nope"
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)
	})

	t.Run("rejects unknown pin policies", func(t *testing.T) {
		d := validDescriptor()
		d.Pin = "sometimes"
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)
	})

	t.Run("rejects unsupported engines", func(t *testing.T) {
		d := validDescriptor()
		d.Browser.Engine = "netscape"
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)
	})

	t.Run("browser step is optional", func(t *testing.T) {
		d := validDescriptor()
		d.Browser = nil
		assert.NoError(t, d.Validate())
	})

	t.Run("rejects paths escaping the context", func(t *testing.T) {
		for _, file := range []string{"../main.py", "src/../../main.py", "a/b/../../../main.py", ".."} {
			d := validDescriptor()
			d.Entry.File = file
			assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor, "entry %q", file)
		}

		d := validDescriptor()
		d.Manifest = "/etc/requirements.txt"
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)

		d = validDescriptor()
		d.Manifest = "deps/../../requirements.txt"
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor)
	})

	t.Run("accepts nested paths that stay inside", func(t *testing.T) {
		d := validDescriptor()
		d.Entry.File = "src/../main.py"
		assert.NoError(t, d.Validate())
	})

	t.Run("rejects out-of-range ports", func(t *testing.T) {
		for _, port := range []int{-1, 0, 70000} {
			d := validDescriptor()
			d.Port = port
			assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor, "port %d", port)
		}
	})
}

func TestDescriptorReference(t *testing.T) {
	t.Run("tag policy keeps the tag", func(t *testing.T) {
		ref, err := validDescriptor().Reference()
		require.NoError(t, err)
		assert.Equal(t, "mcr.microsoft.com/playwright/python:v1.47.0-noble", ref)
	})

	t.Run("digest policy yields a content-addressed reference", func(t *testing.T) {
		d := validDescriptor()
		d.Pin = PinDigest
		d.Base.Digest = testDigest
		ref, err := d.Reference()
		require.NoError(t, err)
		assert.Equal(t, "mcr.microsoft.com/playwright/python@"+testDigest, ref)
	})

	t.Run("pinned reports only true digest pins", func(t *testing.T) {
		d := validDescriptor()
		assert.False(t, d.Pinned())
		d.Pin = PinDigest
		d.Base.Digest = testDigest
		assert.True(t, d.Pinned())
	})
}

func TestEntryTarget(t *testing.T) {
	assert.Equal(t, "main:app", Entry{File: "main.py"}.Target())
	assert.Equal(t, "server:application", Entry{File: "src/server.py", Object: "application"}.Target())
	assert.Equal(t, "main", Entry{File: "main.py"}.Module())
}

func TestParseDescriptor(t *testing.T) {
	t.Run("round-trips YAML with defaults applied", func(t *testing.T) {
		d, err := ParseDescriptor([]byte(`
app: crawler-api
base:
  name: mcr.microsoft.com/playwright/python
  tag: v1.47.0-noble
pin: tag
entry:
  file: main.py
browser:
  engine: chromium
  withDeps: true
`))
		require.NoError(t, err)
		assert.Equal(t, "crawler-api", d.App)
		assert.Equal(t, DefaultPort, d.Port)
		assert.Equal(t, "app", d.Entry.Object)
		assert.Equal(t, "requirements.txt", d.Manifest)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		_, err := ParseDescriptor([]byte("app: x\nexposed_port: 9000\n"))
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("rejects invariant violations", func(t *testing.T) {
		_, err := ParseDescriptor([]byte(`
app: crawler-api
base:
  name: mcr.microsoft.com/playwright/python
entry:
  file: main.py
`))
		// Default policy is digest and none was given.
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("lenient decode skips invariants", func(t *testing.T) {
		d, err := DecodeDescriptor([]byte(`
app: crawler-api
base:
  name: mcr.microsoft.com/playwright/python
  tag: v1.47.0-noble
entry:
  file: main.py
`))
		require.NoError(t, err)
		assert.Equal(t, PinDigest, d.Pin)
		assert.Empty(t, d.Base.Digest)
	})
}

func TestDescriptorSaveLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), DescriptorFileName)
	orig := validDescriptor()
	orig.Normalize()
	require.NoError(t, orig.Save(file))

	loaded, err := LoadDescriptor(file)
	require.NoError(t, err)
	assert.Equal(t, orig, loaded)
}

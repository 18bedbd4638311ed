package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/buildqueue"
	"github.com/quaylabs/slipway/internal/core/domain"
	"github.com/quaylabs/slipway/internal/core/ports"
)

const descriptorYAML = `
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
`

type fakeRuntime struct {
	deployments []domain.Deployment
	lastDeploy  *ports.DeployOptions
	stopped     []string
}

func (f *fakeRuntime) ListDeployments(ctx context.Context) ([]domain.Deployment, error) {
	return f.deployments, nil
}

func (f *fakeRuntime) Deploy(ctx context.Context, opts ports.DeployOptions) (*domain.Deployment, error) {
	f.lastDeploy = &opts
	return &domain.Deployment{ID: "abc123def456", App: opts.App, Image: opts.Image, Port: 32768, State: "running"}, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRuntime) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("uvicorn running\n")), nil
}

func (f *fakeRuntime) Exec(ctx context.Context, id string, cmd []string) (int, string, error) {
	return 0, "", nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, id string) (*domain.Deployment, error) {
	return &domain.Deployment{ID: id, App: "crawler-api", Port: 32768, State: "running"}, nil
}

type fakeBuilder struct{}

func (fakeBuilder) BuildImage(ctx context.Context, req ports.BuildRequest) (*ports.BuildResult, error) {
	return &ports.BuildResult{ImageID: "sha256:abc", ImageRef: "crawler-api:1"}, nil
}

type fakeVerifier struct{ results []ports.CheckResult }

func (f *fakeVerifier) Verify(ctx context.Context, dep domain.Deployment, desc *domain.Descriptor) ([]ports.CheckResult, error) {
	return f.results, nil
}

type fakeResolver struct{ digest string }

func (f *fakeResolver) ResolveDigest(ctx context.Context, ref string) (string, error) {
	return f.digest, nil
}

func newTestApp(t *testing.T, runtime *fakeRuntime) (*fiber.App, *buildqueue.Queue) {
	t.Helper()
	queue := buildqueue.New(fakeBuilder{}, zap.NewNop(), 1, 4)
	t.Cleanup(queue.Shutdown)

	verifier := &fakeVerifier{results: []ports.CheckResult{{Name: "serves-http", OK: true}}}
	resolver := &fakeResolver{digest: "sha256:3e0b6e1e2c8a17ed277505b4c9e175948e00e2fc6e2e9832a55ee70e4cb04f43"}

	app := fiber.New()
	NewHandler(runtime, queue, verifier, resolver, zap.NewNop()).Register(app)
	return app, queue
}

func TestRenderDescriptorEndpoint(t *testing.T) {
	app, _ := newTestApp(t, &fakeRuntime{})

	t.Run("renders valid descriptors", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/descriptors/render", strings.NewReader(descriptorYAML))
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "FROM mcr.microsoft.com/playwright/python:v1.47.0-noble")
		assert.Contains(t, string(body), "EXPOSE 8000")
	})

	t.Run("rejects invalid descriptors", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/descriptors/render", strings.NewReader("app: [broken"))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestLintEndpoint(t *testing.T) {
	app, _ := newTestApp(t, &fakeRuntime{})

	file := "FROM img:v1\nEXPOSE 8000\nCMD [\"uvicorn\", \"main:app\", \"--host\", \"0.0.0.0\", \"--port\", \"9000\"]\n"
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/descriptors/lint", strings.NewReader(file))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out struct {
		Count    int `json:"count"`
		Problems []struct {
			Code string `json:"code"`
		} `json:"problems"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotZero(t, out.Count)
	found := false
	for _, p := range out.Problems {
		found = found || p.Code == "port-mismatch"
	}
	assert.True(t, found, "expected a port-mismatch finding")
}

func TestPinEndpoint(t *testing.T) {
	app, _ := newTestApp(t, &fakeRuntime{})

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/descriptors/pin", strings.NewReader(descriptorYAML))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var desc domain.Descriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&desc))
	assert.Equal(t, domain.PinDigest, desc.Pin)
	assert.Contains(t, desc.Base.Digest, "sha256:")
}

func TestBuildEndpoints(t *testing.T) {
	app, _ := newTestApp(t, &fakeRuntime{})

	t.Run("queues a build", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/builds/",
			strings.NewReader(`{"repo_url":"https://example.com/app.git"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

		var rec domain.Build
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
		assert.NotEmpty(t, rec.ID)

		get := httptest.NewRequest(fiber.MethodGet, "/api/v1/builds/"+rec.ID, nil)
		resp, err = app.Test(get)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("requires a repo URL", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/builds/", strings.NewReader(`{}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown build is 404", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodGet, "/api/v1/builds/nope", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("rejects a bad inline descriptor", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/builds/",
			strings.NewReader(`{"repo_url":"r","descriptor":"app: UPPER\n"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestDeploymentEndpoints(t *testing.T) {
	runtime := &fakeRuntime{deployments: []domain.Deployment{
		{ID: "abc123def456", App: "crawler-api", State: "running", Port: 32768},
	}}
	app, _ := newTestApp(t, runtime)

	t.Run("lists deployments", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodGet, "/api/v1/deployments/", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var deps []domain.Deployment
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&deps))
		require.Len(t, deps, 1)
		assert.Equal(t, "crawler-api", deps[0].App)
	})

	t.Run("deploys with the default port and env injection", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/deployments/",
			strings.NewReader(`{"app":"crawler-api","image":"crawler-api:1"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)

		require.NotNil(t, runtime.lastDeploy)
		assert.Equal(t, domain.DefaultPort, runtime.lastDeploy.Port)
		assert.True(t, runtime.lastDeploy.EnvPort)
	})

	t.Run("requires app and image", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/deployments/", strings.NewReader(`{"app":"x"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("stops a deployment", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodDelete, "/api/v1/deployments/abc123def456", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"abc123def456"}, runtime.stopped)
	})

	t.Run("streams logs", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodGet, "/api/v1/deployments/abc123def456/logs", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "uvicorn running")
	})

	t.Run("verifies a deployment", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/deployments/abc123def456/verify", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var out struct {
			OK     bool                `json:"ok"`
			Checks []ports.CheckResult `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.True(t, out.OK)
		require.Len(t, out.Checks, 1)
		assert.Equal(t, "serves-http", out.Checks[0].Name)
	})
}

package verify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/core/domain"
	"github.com/quaylabs/slipway/internal/core/ports"
)

type fakeRuntime struct {
	state    string
	execCode int
	execOut  string
	execCmd  []string
}

func (f *fakeRuntime) ListDeployments(ctx context.Context) ([]domain.Deployment, error) { return nil, nil }
func (f *fakeRuntime) Deploy(ctx context.Context, opts ports.DeployOptions) (*domain.Deployment, error) {
	return nil, nil
}
func (f *fakeRuntime) Stop(ctx context.Context, id string) error { return nil }
func (f *fakeRuntime) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return nil, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, id string, cmd []string) (int, string, error) {
	f.execCmd = cmd
	return f.execCode, f.execOut, nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, id string) (*domain.Deployment, error) {
	return &domain.Deployment{ID: id, State: f.state}, nil
}

func listeningPort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound) // any HTTP answer counts as alive
	}))
	t.Cleanup(srv.Close)
	portStr := srv.URL[strings.LastIndexByte(srv.URL, ':')+1:]
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func newVerifier(rt ports.DeploymentService) *Verifier {
	v := New(rt, zap.NewNop())
	v.WaitFor = 2 * time.Second
	v.Poll = 20 * time.Millisecond
	return v
}

func TestCheckServes(t *testing.T) {
	t.Run("passes once the port answers", func(t *testing.T) {
		v := newVerifier(&fakeRuntime{state: "running"})
		dep := domain.Deployment{ID: "abc", State: "running", Port: listeningPort(t)}

		results, err := v.Verify(context.Background(), dep, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].OK, results[0].Detail)
		assert.Equal(t, "serves-http", results[0].Name)
	})

	t.Run("reports a container that exited instead of binding", func(t *testing.T) {
		v := newVerifier(&fakeRuntime{state: "exited"})
		dep := domain.Deployment{ID: "abc", State: "running", Port: 1} // nothing listens on 1

		results, err := v.Verify(context.Background(), dep, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.False(t, results[0].OK)
		assert.Contains(t, results[0].Detail, "exited before serving")
	})

	t.Run("fails without a published port", func(t *testing.T) {
		v := newVerifier(&fakeRuntime{state: "running"})
		results, err := v.Verify(context.Background(), domain.Deployment{ID: "abc"}, nil)
		require.NoError(t, err)
		assert.False(t, results[0].OK)
	})
}

func TestCheckBrowser(t *testing.T) {
	desc := &domain.Descriptor{Browser: &domain.Browser{Engine: "chromium"}}

	t.Run("passes on exit code zero", func(t *testing.T) {
		rt := &fakeRuntime{state: "running"}
		v := newVerifier(rt)
		dep := domain.Deployment{ID: "abc", State: "running", Port: listeningPort(t)}

		results, err := v.Verify(context.Background(), dep, desc)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.True(t, results[1].OK, results[1].Detail)
		require.NotEmpty(t, rt.execCmd)
		assert.Equal(t, "python", rt.execCmd[0])
		assert.Contains(t, rt.execCmd[2], "p.chromium.launch(headless=True)")
	})

	t.Run("fails on nonzero exit", func(t *testing.T) {
		rt := &fakeRuntime{state: "running", execCode: 127, execOut: "chromium: not found"}
		v := newVerifier(rt)
		dep := domain.Deployment{ID: "abc", State: "running", Port: listeningPort(t)}

		results, err := v.Verify(context.Background(), dep, desc)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.False(t, results[1].OK)
		assert.Contains(t, results[1].Detail, "exited 127")
	})

	t.Run("branded engines launch through a channel", func(t *testing.T) {
		rt := &fakeRuntime{state: "running"}
		v := newVerifier(rt)
		dep := domain.Deployment{ID: "abc", State: "running", Port: listeningPort(t)}

		_, err := v.Verify(context.Background(), dep, &domain.Descriptor{Browser: &domain.Browser{Engine: "msedge"}})
		require.NoError(t, err)
		assert.Contains(t, rt.execCmd[2], `channel="msedge"`)
	})
}

// Package verify runs post-build smoke checks against a deployment.
package verify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/core/domain"
	"github.com/quaylabs/slipway/internal/core/ports"
)

// Verifier implements ports.Verifier on top of the deployment runtime.
type Verifier struct {
	runtime ports.DeploymentService
	log     *zap.Logger

	// Deadline for the served port to start answering. Uvicorn imports the
	// entry module before binding, so a missing app export shows up inside
	// this window as a container exit.
	WaitFor time.Duration
	Poll    time.Duration
}

func New(runtime ports.DeploymentService, log *zap.Logger) *Verifier {
	return &Verifier{
		runtime: runtime,
		log:     log,
		WaitFor: 30 * time.Second,
		Poll:    500 * time.Millisecond,
	}
}

// Verify runs the smoke checks: the published port answers HTTP, and the
// provisioned browser engine launches headlessly with exit code zero.
func (v *Verifier) Verify(ctx context.Context, dep domain.Deployment, desc *domain.Descriptor) ([]ports.CheckResult, error) {
	results := []ports.CheckResult{v.checkServes(ctx, dep)}
	if desc != nil && desc.Browser != nil {
		results = append(results, v.checkBrowser(ctx, dep, desc.Browser))
	}
	return results, nil
}

// checkServes polls the published host port until the server inside answers
// any HTTP request. A container that exits instead of binding (the failure
// mode of an entry file with no app export) is reported as such.
func (v *Verifier) checkServes(ctx context.Context, dep domain.Deployment) ports.CheckResult {
	check := ports.CheckResult{Name: "serves-http"}
	if dep.Port == 0 {
		check.Detail = "deployment has no published port"
		return check
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/", dep.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(v.WaitFor)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			check.Detail = err.Error()
			return check
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			check.OK = true
			check.Detail = fmt.Sprintf("answered %s on port %d", resp.Status, dep.Port)
			return check
		}

		if cur, ierr := v.runtime.Inspect(ctx, dep.ID); ierr == nil && !cur.Running() {
			check.Detail = "container exited before serving; the entry file likely does not export an object named " +
				domain.DefaultEntryObject
			return check
		}

		select {
		case <-ctx.Done():
			check.Detail = ctx.Err().Error()
			return check
		case <-time.After(v.Poll):
		}
	}
	check.Detail = fmt.Sprintf("no HTTP answer on port %d within %s", dep.Port, v.WaitFor)
	return check
}

// checkBrowser launches the provisioned engine headlessly inside the
// container and requires a zero exit code.
func (v *Verifier) checkBrowser(ctx context.Context, dep domain.Deployment, b *domain.Browser) ports.CheckResult {
	check := ports.CheckResult{Name: "browser-launches"}

	launch := fmt.Sprintf("p.%s.launch(headless=True)", b.Engine)
	switch b.Engine {
	case "chrome", "msedge":
		// Branded builds are chromium launched through a channel.
		launch = fmt.Sprintf("p.chromium.launch(headless=True, channel=%q)", b.Engine)
	}
	script := fmt.Sprintf(
		"from playwright.sync_api import sync_playwright\nwith sync_playwright() as p:\n    %s.close()\n",
		launch)

	code, out, err := v.runtime.Exec(ctx, dep.ID, []string{"python", "-c", script})
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	if code != 0 {
		check.Detail = fmt.Sprintf("engine %s exited %d: %s", b.Engine, code, out)
		return check
	}
	check.OK = true
	check.Detail = fmt.Sprintf("engine %s launched and exited cleanly", b.Engine)
	v.log.Debug("browser check passed", zap.String("engine", b.Engine), zap.String("deployment", dep.ID))
	return check
}

package http

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/core/ports"
)

// ProxyHandler routes app subdomains (e.g. crawler-api.localhost) to the
// published port of the matching deployment, so a deploy is reachable by
// name without the operator tracking host ports.
type ProxyHandler struct {
	service ports.DeploymentService
	domain  string
	log     *zap.Logger
}

func NewProxyHandler(service ports.DeploymentService, domain string, log *zap.Logger) *ProxyHandler {
	return &ProxyHandler{service: service, domain: domain, log: log}
}

// ProxyRequest intercepts requests whose host is <app>.<domain> and relays
// them to the deployment's published port.
func (h *ProxyHandler) ProxyRequest(c *fiber.Ctx) error {
	host := c.Hostname()

	app, ok := strings.CutSuffix(host, "."+h.domain)
	if !ok || app == "" || app == "www" || strings.Contains(app, ".") {
		return c.Next()
	}

	deployments, err := h.service.ListDeployments(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to list deployments")
	}

	var port int
	for _, dep := range deployments {
		if dep.App == app && dep.Running() && dep.Port != 0 {
			port = dep.Port
			break
		}
	}
	if port == 0 {
		return c.Status(fiber.StatusNotFound).SendString(fmt.Sprintf("App '%s' not found or not running", app))
	}

	remote, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Invalid target URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(remote)

	// Rewrite the Host header so the app behind the proxy sees a host it
	// recognizes instead of the subdomain.
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = remote.Host
		req.URL.Host = remote.Host
		req.URL.Scheme = remote.Scheme
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.log.Warn("proxy error", zap.String("app", app), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "upstream for %s unreachable", app)
	}

	return adaptor.HTTPHandler(proxy)(c)
}

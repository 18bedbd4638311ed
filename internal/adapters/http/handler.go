// Package http exposes the control plane over a fiber API.
package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/adapters/dockerfile"
	"github.com/quaylabs/slipway/internal/buildqueue"
	"github.com/quaylabs/slipway/internal/core/domain"
	"github.com/quaylabs/slipway/internal/core/ports"
)

// Handler wires the API surface to the core services.
type Handler struct {
	runtime  ports.DeploymentService
	queue    *buildqueue.Queue
	verifier ports.Verifier
	resolver ports.DigestResolver
	log      *zap.Logger
}

func NewHandler(runtime ports.DeploymentService, queue *buildqueue.Queue, verifier ports.Verifier, resolver ports.DigestResolver, log *zap.Logger) *Handler {
	return &Handler{runtime: runtime, queue: queue, verifier: verifier, resolver: resolver, log: log}
}

// Register mounts all routes under /api/v1.
func (h *Handler) Register(app *fiber.App) {
	v1 := app.Group("/api").Group("/v1")

	descriptors := v1.Group("/descriptors")
	descriptors.Post("/render", h.RenderDescriptor)
	descriptors.Post("/lint", h.LintDockerfile)
	descriptors.Post("/pin", h.PinDescriptor)

	builds := v1.Group("/builds")
	builds.Post("/", h.StartBuild)
	builds.Get("/", h.ListBuilds)
	builds.Get("/:id", h.GetBuild)

	deployments := v1.Group("/deployments")
	deployments.Get("/", h.ListDeployments)
	deployments.Post("/", h.Deploy)
	deployments.Delete("/:id", h.StopDeployment)
	deployments.Get("/:id/logs", h.DeploymentLogs)
	deployments.Post("/:id/verify", h.VerifyDeployment)
}

// RenderDescriptor turns descriptor YAML into the Dockerfile it implies.
func (h *Handler) RenderDescriptor(c *fiber.Ctx) error {
	desc, err := domain.ParseDescriptor(c.Body())
	if err != nil {
		return fail(c, err)
	}
	rendered, err := dockerfile.Render(desc)
	if err != nil {
		return fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(rendered)
}

// LintDockerfile reports contract violations in a hand-written Dockerfile.
func (h *Handler) LintDockerfile(c *fiber.Ctx) error {
	problems := dockerfile.Lint(string(c.Body()))
	return c.JSON(fiber.Map{"problems": problems, "count": len(problems)})
}

// PinDescriptor resolves the descriptor's base tag to its current digest and
// returns the descriptor rewritten to the digest pin policy.
func (h *Handler) PinDescriptor(c *fiber.Ctx) error {
	// A descriptor being pinned usually has no digest yet, which the strict
	// parser would reject under the digest policy; decode leniently.
	desc, err := domain.DecodeDescriptor(c.Body())
	if err != nil {
		return fail(c, err)
	}
	ref, err := desc.ParseReference()
	if err != nil {
		return fail(c, err)
	}
	dgst, err := h.resolver.ResolveDigest(c.Context(), ref.String())
	if err != nil {
		return fail(c, err)
	}
	desc.Base.Digest = dgst
	desc.Pin = domain.PinDigest
	if err := desc.Validate(); err != nil {
		return fail(c, err)
	}
	return c.JSON(desc)
}

type buildRequest struct {
	RepoURL    string `json:"repo_url"`
	Image      string `json:"image"`
	Descriptor string `json:"descriptor"` // inline YAML, optional
}

// StartBuild queues a build and returns its record for polling. Builds do
// not run on the request path.
func (h *Handler) StartBuild(c *fiber.Ctx) error {
	var req buildRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.RepoURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "repo_url is required"})
	}

	build := ports.BuildRequest{RepoURL: req.RepoURL, ImageRef: req.Image}
	if req.Descriptor != "" {
		desc, err := domain.ParseDescriptor([]byte(req.Descriptor))
		if err != nil {
			return fail(c, err)
		}
		build.Descriptor = desc
	}

	record, err := h.queue.Enqueue(build)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(record)
}

func (h *Handler) ListBuilds(c *fiber.Ctx) error {
	return c.JSON(h.queue.List())
}

func (h *Handler) GetBuild(c *fiber.Ctx) error {
	record, err := h.queue.Get(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(record)
}

func (h *Handler) ListDeployments(c *fiber.Ctx) error {
	deployments, err := h.runtime.ListDeployments(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(deployments)
}

type deployRequest struct {
	App      string `json:"app"`
	Image    string `json:"image"`
	Port     int    `json:"port"`
	HostPort int    `json:"host_port"`
	EnvPort  *bool  `json:"env_port"`
	Pull     bool   `json:"pull"`
}

// Deploy starts a container for a built image with its app port published.
func (h *Handler) Deploy(c *fiber.Ctx) error {
	var req deployRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.App == "" || req.Image == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "app and image are required"})
	}
	if req.Port == 0 {
		req.Port = domain.DefaultPort
	}
	envPort := true
	if req.EnvPort != nil {
		envPort = *req.EnvPort
	}

	dep, err := h.runtime.Deploy(c.Context(), ports.DeployOptions{
		App:      req.App,
		Image:    req.Image,
		Port:     req.Port,
		HostPort: req.HostPort,
		EnvPort:  envPort,
		Pull:     req.Pull,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dep)
}

func (h *Handler) StopDeployment(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "deployment ID is required"})
	}
	if err := h.runtime.Stop(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) DeploymentLogs(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "deployment ID is required"})
	}
	logs, err := h.runtime.Logs(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendStream(logs)
}

// VerifyDeployment runs the smoke checks. An optional descriptor in the body
// enables the browser check.
func (h *Handler) VerifyDeployment(c *fiber.Ctx) error {
	id := c.Params("id")
	dep, err := h.runtime.Inspect(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	var desc *domain.Descriptor
	if len(c.Body()) > 0 {
		desc, err = domain.ParseDescriptor(c.Body())
		if err != nil {
			return fail(c, err)
		}
	}
	results, err := h.verifier.Verify(c.Context(), *dep, desc)
	if err != nil {
		return fail(c, err)
	}
	ok := true
	for _, r := range results {
		ok = ok && r.OK
	}
	return c.JSON(fiber.Map{"ok": ok, "checks": results})
}

// fail maps core errors onto HTTP statuses.
func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidDescriptor):
		status = fiber.StatusBadRequest
	case errors.Is(err, buildqueue.ErrUnknownBuild):
		status = fiber.StatusNotFound
	case errors.Is(err, buildqueue.ErrBacklogFull), errors.Is(err, buildqueue.ErrQueueClosed):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrBaseImageUnresolvable):
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

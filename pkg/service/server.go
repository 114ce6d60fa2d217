package service

import (
	stderrors "errors"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
	"github.com/Nitinref/R8R-sub001/pkg/memory"
	"github.com/Nitinref/R8R-sub001/pkg/pipeline"
	"github.com/Nitinref/R8R-sub001/pkg/provider"
	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

/*
Server exposes the pipeline engine over HTTP. It is safe for
concurrent use; the registry, runner, and memory manager all carry
their own synchronization.
*/
type Server struct {
	app          *fiber.App
	registry     *Registry
	runner       *pipeline.Runner
	memories     *memory.Manager
	orchestrator *provider.Orchestrator
	addr         string
}

type ServerOption func(*Server)

func NewServer(
	runner *pipeline.Runner, orchestrator *provider.Orchestrator, options ...ServerOption,
) *Server {
	srv := &Server{
		app: fiber.New(fiber.Config{
			AppName:      "pipeline-engine",
			ServerHeader: "Pipeline-Engine",
		}),
		registry:     NewRegistry(),
		runner:       runner,
		orchestrator: orchestrator,
		addr:         ":3210",
	}

	for _, option := range options {
		option(srv)
	}

	srv.routes()
	return srv
}

func (srv *Server) Start() error {
	srv.app.Use(logger.New(logger.Config{
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/health"
		},
	}))

	log.Info("starting server", "addr", srv.addr)
	return srv.app.Listen(srv.addr, fiber.ListenConfig{DisableStartupMessage: true})
}

func (srv *Server) Shutdown() error {
	return srv.app.Shutdown()
}

func (srv *Server) routes() {
	srv.app.Get("/", func(ctx fiber.Ctx) error {
		return ctx.SendString("OK")
	})

	srv.app.Get("/health", srv.handleHealth)

	srv.app.Post("/pipelines", srv.handleRegisterPipeline)
	srv.app.Get("/pipelines", srv.handleListPipelines)
	srv.app.Get("/pipelines/:id", srv.handleGetPipeline)
	srv.app.Delete("/pipelines/:id", srv.handleDeletePipeline)
	srv.app.Post("/pipelines/:id/run", srv.handleRun)

	srv.app.Post("/memory", srv.handleMemoryStore)
	srv.app.Post("/memory/search", srv.handleMemorySearch)
	srv.app.Post("/memory/:id/feedback", srv.handleMemoryFeedback)
	srv.app.Post("/memory/summarize", srv.handleMemorySummarize)
	srv.app.Post("/memory/cleanup", srv.handleMemoryCleanup)
}

func (srv *Server) handleHealth(ctx fiber.Ctx) error {
	health := srv.orchestrator.HealthCheck(ctx.RequestCtx())
	providers := make(map[string]string, len(health))

	for name, err := range health {
		if err != nil {
			providers[name] = err.Error()
			continue
		}
		providers[name] = "ok"
	}

	status := fiber.StatusOK
	memoryStatus := "disabled"

	if srv.memories != nil {
		memoryStatus = "ok"
		if err := srv.memories.Ping(ctx.RequestCtx()); err != nil {
			memoryStatus = err.Error()
			status = fiber.StatusServiceUnavailable
		}
	}

	return ctx.Status(status).JSON(fiber.Map{
		"providers": providers,
		"memory":    memoryStatus,
	})
}

func (srv *Server) handleRegisterPipeline(ctx fiber.Ctx) error {
	var def pipeline.Definition

	if err := ctx.Bind().Body(&def); err != nil {
		return srv.fail(ctx, fiber.StatusBadRequest, err)
	}

	if err := srv.registry.Put(&def); err != nil {
		return srv.fail(ctx, fiber.StatusUnprocessableEntity, err)
	}

	log.Info("registered pipeline", "id", def.ID, "name", def.Name)
	return ctx.Status(fiber.StatusCreated).JSON(def)
}

func (srv *Server) handleListPipelines(ctx fiber.Ctx) error {
	return ctx.JSON(srv.registry.List())
}

func (srv *Server) handleGetPipeline(ctx fiber.Ctx) error {
	def, err := srv.registry.Get(ctx.Params("id"))
	if err != nil {
		return srv.fail(ctx, fiber.StatusNotFound, err)
	}

	return ctx.JSON(def)
}

func (srv *Server) handleDeletePipeline(ctx fiber.Ctx) error {
	srv.registry.Delete(ctx.Params("id"))
	return ctx.SendStatus(fiber.StatusNoContent)
}

/*
handleRun executes a registered pipeline. Linear definitions return
the response directly; DAG definitions return the run report with the
response embedded when the run completed.
*/
func (srv *Server) handleRun(ctx fiber.Ctx) error {
	def, err := srv.registry.Get(ctx.Params("id"))
	if err != nil {
		return srv.fail(ctx, fiber.StatusNotFound, err)
	}

	var req pipeline.RunRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return srv.fail(ctx, fiber.StatusBadRequest, err)
	}

	if req.Query == "" {
		return srv.fail(ctx, fiber.StatusBadRequest,
			errors.ErrPipelineInvalid.WithData("query must not be empty"))
	}

	if def.IsDAG() {
		result, err := srv.runner.RunDAG(ctx.RequestCtx(), def, req)
		if err != nil {
			return srv.fail(ctx, fiber.StatusInternalServerError, err)
		}

		status := fiber.StatusOK
		if result.Status != pipeline.StatusCompleted {
			status = fiber.StatusInternalServerError
		}

		return ctx.Status(status).JSON(result)
	}

	response, err := srv.runner.Run(ctx.RequestCtx(), def, req)
	if err != nil {
		if stderrors.Is(err, errors.ErrRunCancelled) {
			return srv.fail(ctx, fiber.StatusRequestTimeout, err)
		}
		return srv.fail(ctx, fiber.StatusInternalServerError, err)
	}

	return ctx.JSON(response)
}

func (srv *Server) handleMemoryStore(ctx fiber.Ctx) error {
	if srv.memories == nil {
		return srv.memoryDisabled(ctx)
	}

	var req memory.StoreRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return srv.fail(ctx, fiber.StatusBadRequest, err)
	}

	entry, err := srv.memories.Store(ctx.RequestCtx(), req)
	if err != nil {
		return srv.fail(ctx, fiber.StatusUnprocessableEntity, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(entry)
}

func (srv *Server) handleMemorySearch(ctx fiber.Ctx) error {
	if srv.memories == nil {
		return srv.memoryDisabled(ctx)
	}

	var req memory.RetrieveRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return srv.fail(ctx, fiber.StatusBadRequest, err)
	}

	matches, err := srv.memories.Retrieve(ctx.RequestCtx(), req)
	if err != nil {
		return srv.fail(ctx, fiber.StatusUnprocessableEntity, err)
	}

	return ctx.JSON(matches)
}

func (srv *Server) handleMemoryFeedback(ctx fiber.Ctx) error {
	if srv.memories == nil {
		return srv.memoryDisabled(ctx)
	}

	var req struct {
		Feedback float64 `json:"feedback"`
		Reason   string  `json:"reason,omitempty"`
	}

	if err := ctx.Bind().Body(&req); err != nil {
		return srv.fail(ctx, fiber.StatusBadRequest, err)
	}

	entry, err := srv.memories.UpdateImportance(
		ctx.RequestCtx(), ctx.Params("id"), req.Feedback, req.Reason,
	)

	if err != nil {
		return srv.fail(ctx, fiber.StatusUnprocessableEntity, err)
	}

	return ctx.JSON(entry)
}

func (srv *Server) handleMemorySummarize(ctx fiber.Ctx) error {
	if srv.memories == nil {
		return srv.memoryDisabled(ctx)
	}

	var req struct {
		UserID string   `json:"userId"`
		IDs    []string `json:"ids"`
	}

	if err := ctx.Bind().Body(&req); err != nil {
		return srv.fail(ctx, fiber.StatusBadRequest, err)
	}

	entry, err := srv.memories.Summarize(ctx.RequestCtx(), req.UserID, req.IDs)
	if err != nil {
		return srv.fail(ctx, fiber.StatusUnprocessableEntity, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(entry)
}

func (srv *Server) handleMemoryCleanup(ctx fiber.Ctx) error {
	if srv.memories == nil {
		return srv.memoryDisabled(ctx)
	}

	var req memory.CleanupRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return srv.fail(ctx, fiber.StatusBadRequest, err)
	}

	deleted, err := srv.memories.Cleanup(ctx.RequestCtx(), req)
	if err != nil {
		return srv.fail(ctx, fiber.StatusUnprocessableEntity, err)
	}

	return ctx.JSON(fiber.Map{"deleted": deleted})
}

func (srv *Server) memoryDisabled(ctx fiber.Ctx) error {
	return srv.fail(ctx, fiber.StatusNotImplemented,
		errors.ErrMemoryInvalid.WithData("memory subsystem is not configured"))
}

func (srv *Server) fail(ctx fiber.Ctx, status int, err error) error {
	log.Error("request failed", "path", ctx.Path(), "status", status, "error", err)

	var engineErr *errors.EngineError
	if stderrors.As(err, &engineErr) {
		return ctx.Status(status).JSON(fiber.Map{"error": engineErr})
	}

	return ctx.Status(status).JSON(fiber.Map{
		"error": fiber.Map{"message": err.Error()},
	})
}

func WithAddr(addr string) ServerOption {
	return func(srv *Server) { srv.addr = addr }
}

func WithMemories(mgr *memory.Manager) ServerOption {
	return func(srv *Server) { srv.memories = mgr }
}

func WithRegistry(reg *Registry) ServerOption {
	return func(srv *Server) { srv.registry = reg }
}

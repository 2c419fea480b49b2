// Package server exposes the sync, mutation, and diagnostics surfaces
// over HTTP. Every /api response is HTTP 200 with a success
// discriminator in the body; the calling UI branches on the payload,
// not the status code.
package server

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/internal/diagnostics"
	"github.com/nexocrm/mailsync/internal/dispatch"
	"github.com/nexocrm/mailsync/internal/folderops"
	"github.com/nexocrm/mailsync/internal/store"
	"github.com/nexocrm/mailsync/internal/syncer"
)

const resyncDelay = 5 * time.Second

type Server struct {
	svc       *syncer.Service
	ops       *folderops.Ops
	diag      *diagnostics.Diagnostics
	store     *store.Store
	scheduler *dispatch.Scheduler
	logger    *slog.Logger
}

func New(svc *syncer.Service, ops *folderops.Ops, diag *diagnostics.Diagnostics, st *store.Store, logger *slog.Logger) (*Server, error) {
	if svc == nil || ops == nil || diag == nil || st == nil {
		return nil, errors.New("requires syncer, folder ops, diagnostics, and store")
	}
	if logger == nil {
		return nil, errors.New("requires logger")
	}
	return &Server{
		svc:       svc,
		ops:       ops,
		diag:      diag,
		store:     st,
		scheduler: dispatch.NewScheduler(resyncDelay, logger),
		logger:    logger,
	}, nil
}

// Shutdown cancels any pending debounced resync. Call before tearing
// down the process.
func (s *Server) Shutdown() {
	if s.scheduler.Cancel() {
		s.logger.Info("Cancelled pending resync")
	}
}

// App assembles the routed fiber application. Telemetry middleware is
// attached here so tests exercising handlers get the same pipeline.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(otelfiber.Middleware())

	app.Get("/healthz", s.healthz)

	api := app.Group("/api")
	api.Post("/sync-folders", s.syncFolders)
	api.Post("/manage-folders", s.manageFolders)

	diag := api.Group("/diagnostics")
	diag.Post("/cleanup-settings", s.cleanupSettings)
	diag.Post("/validate-credentials", s.validateCredentials)
	diag.Get("/schema", s.checkSchema)
	diag.Get("/status", s.syncStatus)
	diag.Post("/reset", s.reset)

	return app
}

// bearerToken pulls the opaque credential off the Authorization header.
// An absent or malformed header yields the empty token, which the
// resolver rejects as not authenticated.
func bearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func (s *Server) healthz(c *fiber.Ctx) error {
	if err := s.store.Ping(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false})
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) syncFolders(c *fiber.Ctx) error {
	res := s.svc.SyncFolders(c.UserContext(), bearerToken(c))
	return c.Status(fiber.StatusOK).JSON(res)
}

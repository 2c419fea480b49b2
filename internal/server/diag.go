package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/internal/diagnostics"
	"github.com/nexocrm/mailsync/internal/store"
)

// diagHandler authenticates the caller and runs one repair utility.
// Diagnostics are reachable when the system is already degraded, so
// the envelope is returned for every outcome, auth failure included.
func (s *Server) diagHandler(c *fiber.Ctx, run func(userID string) diagnostics.Result) error {
	userID, err := s.svc.Authenticate(c.UserContext(), bearerToken(c))
	if err != nil {
		return c.Status(fiber.StatusOK).JSON(diagnostics.Result{
			Success: false,
			Message: "Not authenticated",
			Error:   err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(run(userID))
}

func (s *Server) cleanupSettings(c *fiber.Ctx) error {
	return s.diagHandler(c, func(userID string) diagnostics.Result {
		return s.diag.CleanupDuplicateSettings(c.UserContext(), userID)
	})
}

func (s *Server) validateCredentials(c *fiber.Ctx) error {
	return s.diagHandler(c, func(userID string) diagnostics.Result {
		settings, err := s.svc.Settings(c.UserContext(), userID)
		if err != nil {
			msg := "Could not load connection settings"
			if errors.Is(err, store.ErrNotConfigured) {
				msg = "Email account not configured"
			}
			return diagnostics.Result{Success: false, Message: msg, Error: err.Error()}
		}
		return s.diag.ValidateCredentials(c.UserContext(), settings)
	})
}

func (s *Server) checkSchema(c *fiber.Ctx) error {
	return s.diagHandler(c, func(string) diagnostics.Result {
		return s.diag.CheckSchema(c.UserContext())
	})
}

func (s *Server) syncStatus(c *fiber.Ctx) error {
	return s.diagHandler(c, func(userID string) diagnostics.Result {
		return s.diag.Status(c.UserContext(), userID)
	})
}

func (s *Server) reset(c *fiber.Ctx) error {
	return s.diagHandler(c, func(userID string) diagnostics.Result {
		return s.diag.Reset(c.UserContext(), userID)
	})
}

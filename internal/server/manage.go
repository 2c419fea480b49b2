package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/internal/store"
	"github.com/nexocrm/mailsync/pkg/base"
)

const (
	actionCreate = "create"
	actionDelete = "delete"
	actionRename = "rename"
)

type manageRequest struct {
	Action     string `json:"action"`
	FolderName string `json:"folder_name,omitempty"`
	FolderPath string `json:"folder_path,omitempty"`
	NewName    string `json:"new_name,omitempty"`
}

type manageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Result  bool   `json:"result,omitempty"`
}

// validate enforces the per-action required fields before any remote
// connection is attempted.
func (r manageRequest) validate() error {
	switch r.Action {
	case actionCreate:
		if r.FolderName == "" {
			return errors.New("create requires folder_name")
		}
	case actionDelete:
		if r.FolderPath == "" {
			return errors.New("delete requires folder_path")
		}
	case actionRename:
		if r.FolderPath == "" || r.NewName == "" {
			return errors.New("rename requires folder_path and new_name")
		}
	default:
		return errors.Errorf("unknown action %q", r.Action)
	}
	return nil
}

func (s *Server) manageFolders(c *fiber.Ctx) error {
	var req manageRequest
	if err := c.BodyParser(&req); err != nil {
		return manageFailure(c, "Invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return manageFailure(c, "Invalid folder mutation request", err)
	}

	ctx := c.UserContext()
	token := bearerToken(c)
	userID, err := s.svc.Authenticate(ctx, token)
	if err != nil {
		return manageFailure(c, "Not authenticated", err)
	}

	settings, err := s.svc.Settings(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotConfigured) {
			return manageFailure(c, "Email account not configured", err)
		}
		return manageFailure(c, "Could not load connection settings", err)
	}

	if err := s.applyMutation(settings, req); err != nil {
		return manageFailure(c, fmt.Sprintf("Folder %s failed", req.Action), err)
	}

	s.scheduleResync(userID, token)

	return c.Status(fiber.StatusOK).JSON(manageResponse{
		Success: true,
		Message: fmt.Sprintf("Folder %s succeeded", req.Action),
		Result:  true,
	})
}

func (s *Server) applyMutation(settings base.ConnectionSettings, req manageRequest) error {
	switch req.Action {
	case actionCreate:
		return s.ops.Create(settings, req.FolderName)
	case actionDelete:
		return s.ops.Delete(settings, req.FolderPath)
	default:
		return s.ops.Rename(settings, req.FolderPath, req.NewName)
	}
}

// scheduleResync coalesces the snapshot refresh after a burst of
// mutations into one debounced discovery pass.
func (s *Server) scheduleResync(userID, token string) {
	s.scheduler.Schedule("resync:"+userID, func() {
		res := s.svc.SyncFolders(context.Background(), token)
		if !res.Success {
			s.logger.Warn("Post-mutation resync failed",
				slog.String("user_id", userID),
				slog.String("error", res.Error))
		}
	})
}

func manageFailure(c *fiber.Ctx, message string, err error) error {
	return c.Status(fiber.StatusOK).JSON(manageResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

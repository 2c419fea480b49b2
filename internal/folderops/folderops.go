// Package folderops performs single remote folder mutations. Each
// operation owns a full connection lifecycle: dial, authenticate, one
// mailbox command, teardown. None of them touch the persisted snapshot;
// callers wanting consistency trigger a re-sync afterwards.
package folderops

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/internal/imapconn"
	"github.com/nexocrm/mailsync/pkg/base"
	"github.com/nexocrm/mailsync/pkg/utils"
)

// SessionDialer opens authenticated sessions from stored settings.
type SessionDialer interface {
	Dial(settings base.ConnectionSettings) (*imapconn.Session, error)
}

type Ops struct {
	dialer SessionDialer
	logger *slog.Logger
}

func New(dialer SessionDialer, logger *slog.Logger) (*Ops, error) {
	if dialer == nil {
		return nil, errors.New("requires dialer")
	}
	if logger == nil {
		return nil, errors.New("requires logger")
	}
	return &Ops{dialer: dialer, logger: logger}, nil
}

// Create makes a new remote folder with the given name.
func (o *Ops) Create(settings base.ConnectionSettings, name string) error {
	return o.run(settings, "create", name, func(c base.Client) error {
		return errors.Wrapf(c.Create(name), "creating folder %q", name)
	})
}

// Delete removes the remote folder at path.
func (o *Ops) Delete(settings base.ConnectionSettings, path string) error {
	return o.run(settings, "delete", path, func(c base.Client) error {
		return errors.Wrapf(c.Delete(path), "deleting folder %q", path)
	})
}

// Rename renames the remote folder at path to newName.
func (o *Ops) Rename(settings base.ConnectionSettings, path, newName string) error {
	return o.run(settings, "rename", path, func(c base.Client) error {
		return errors.Wrapf(c.Rename(path, newName), "renaming folder %q to %q", path, newName)
	})
}

func (o *Ops) run(settings base.ConnectionSettings, action, target string, op func(base.Client) error) error {
	session, err := o.dialer.Dial(settings)
	if err != nil {
		o.logger.Error("Folder mutation could not connect",
			slog.String("action", action),
			slog.String("target", target),
			slog.Any("error", utils.WrapError(err)))
		return err
	}
	defer session.Close()

	if err := op(session.Client()); err != nil {
		o.logger.Error("Folder mutation failed",
			slog.String("action", action),
			slog.String("target", target),
			slog.Any("error", utils.WrapError(err)))
		return err
	}

	o.logger.Info("Folder mutation succeeded",
		slog.String("action", action),
		slog.String("target", target))
	return nil
}

// Package discovery enumerates a mail account's remote folders and
// turns them into classified folder records ready for persistence.
package discovery

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/internal/classify"
	"github.com/nexocrm/mailsync/pkg/base"
	"github.com/nexocrm/mailsync/pkg/utils"
)

var statusItems = []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen}

type Discoverer struct {
	logger *slog.Logger
}

func NewDiscoverer(logger *slog.Logger) (*Discoverer, error) {
	if logger == nil {
		return nil, errors.New("requires logger")
	}
	return &Discoverer{logger: logger}, nil
}

// Discover lists every remote mailbox on the session, drops the
// non-selectable hierarchy nodes, classifies the rest, and fetches
// per-folder counts best-effort. A single folder's STATUS failure is
// logged and defaulted, never fatal to the pass.
func (d *Discoverer) Discover(c base.Client, userID string) ([]base.FolderRecord, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var remote []base.RemoteFolder
	for m := range mailboxes {
		remote = append(remote, base.RemoteFolder{
			Name:      displayName(m),
			Path:      m.Name,
			Delimiter: m.Delimiter,
			Flags:     m.Attributes,
		})
	}
	if err := <-done; err != nil {
		d.logger.Error("Failed to list mailboxes", slog.Any("error", utils.WrapError(err)))
		return nil, errors.Wrap(err, "listing mailboxes")
	}

	records := make([]base.FolderRecord, 0, len(remote))
	for _, f := range remote {
		if !classify.Selectable(f) {
			d.logger.Info("Skipping non-selectable mailbox", slog.String("path", f.Path))
			continue
		}

		// STATUS cannot interleave with LIST on one connection, which is
		// why counts are fetched after the listing drains.
		f.Counts = d.fetchCounts(c, f.Path)

		record := base.FolderRecord{
			UserID:     userID,
			Name:       f.Name,
			Path:       f.Path,
			Type:       classify.Classify(f),
			SpecialUse: classify.SpecialUse(f),
			Flags:      f.Flags,
		}
		if f.Counts != nil {
			record.TotalMessages = f.Counts.Total
			record.UnreadMessages = f.Counts.Unread
		}
		records = append(records, record)

		d.logger.Info(fmt.Sprintf("Discovered folder: %s", f.Path),
			slog.String("type", string(record.Type)),
			slog.Bool("counts_known", f.Counts != nil))
	}

	return records, nil
}

// fetchCounts returns nil when the server cannot report STATUS for the
// folder. The caller decides what the default means; here it becomes a
// zero-count record at the persistence boundary.
func (d *Discoverer) fetchCounts(c base.Client, path string) *base.FolderCounts {
	status, err := c.Status(path, statusItems)
	if err != nil {
		d.logger.Warn("STATUS failed, recording zero counts",
			slog.String("path", path),
			slog.Any("error", utils.WrapError(err)))
		return nil
	}
	return &base.FolderCounts{Total: status.Messages, Unread: status.Unseen}
}

// displayName is the last path segment, or the full path when the
// server reports no hierarchy delimiter.
func displayName(m *imap.MailboxInfo) string {
	if m.Delimiter == "" {
		return m.Name
	}
	segments := strings.Split(m.Name, m.Delimiter)
	last := segments[len(segments)-1]
	if last == "" {
		return m.Name
	}
	return last
}

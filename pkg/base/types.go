package base

import (
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
)

// FolderType is the semantic role inferred for a remote folder.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderSpam    FolderType = "spam"
	FolderTrash   FolderType = "trash"
	FolderArchive FolderType = "archive"
	FolderCustom  FolderType = "custom"
)

// ConnectionSettings is the per-account IMAP transport configuration.
// It is created by account setup elsewhere and read-only to this service.
type ConnectionSettings struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Host      string    `db:"host" json:"host"`
	Port      int       `db:"port" json:"port"`
	UseTLS    bool      `db:"use_tls" json:"use_tls"`
	Username  string    `db:"username" json:"username"`
	Password  string    `db:"password" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Address returns the host:port dial target.
func (s ConnectionSettings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// FolderCounts holds the message totals reported by a STATUS call.
type FolderCounts struct {
	Total  uint32 `json:"total"`
	Unread uint32 `json:"unread"`
}

// RemoteFolder is a folder as observed on the wire during one discovery
// pass. Counts is nil when the server could not report STATUS for the
// folder; the zero default is applied only at the persistence boundary.
type RemoteFolder struct {
	Name       string
	Path       string
	Delimiter  string
	Flags      []string
	SpecialUse string
	Counts     *FolderCounts
}

// FolderRecord is the classified, persisted representation of a folder.
// The set of records for a user is replaced wholesale on every sync;
// records are never individually updated outside of a sync pass.
type FolderRecord struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Name           string     `db:"name" json:"name"`
	Path           string     `db:"path" json:"path"`
	Type           FolderType `db:"type" json:"type"`
	SpecialUse     string     `db:"special_use" json:"special_use"`
	Flags          []string   `db:"-" json:"flags"`
	TotalMessages  uint32     `db:"total_messages" json:"total_messages"`
	UnreadMessages uint32     `db:"unread_messages" json:"unread_messages"`
}

// SyncStatus tracks the outcome of the most recent folder sync for a
// user. InProgress is advisory: it lets diagnostics detect overlapping
// runs, it does not prevent them.
type SyncStatus struct {
	UserID     string     `db:"user_id" json:"user_id"`
	LastSyncAt *time.Time `db:"last_sync_at" json:"last_sync_at"`
	InProgress bool       `db:"sync_in_progress" json:"sync_in_progress"`
	LastError  string     `db:"last_error" json:"last_error"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Client is the subset of go-imap client methods this service uses,
// abstracted so tests can substitute a mock.
type Client interface {
	Login(username, password string) error
	Logout() error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	Create(name string) error
	Delete(name string) error
	Rename(existingName, newName string) error
	State() imap.ConnState
}

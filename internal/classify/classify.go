// Package classify infers the semantic type of a remote folder from its
// protocol attributes and, failing that, from its path. The rule list
// is evaluated in a fixed priority order: special-use attributes always
// beat name heuristics, and the first matching rule wins.
package classify

import (
	"strings"

	"github.com/emersion/go-imap"

	"github.com/nexocrm/mailsync/pkg/base"
)

// Rule pairs a predicate with the folder type it implies.
type Rule struct {
	Name  string
	Type  base.FolderType
	Match func(f base.RemoteFolder) bool
}

// Rules is the ordered rule list. Attribute rules come first so that a
// server-declared role always wins over whatever the folder happens to
// be called.
var Rules = []Rule{
	{Name: "attr-sent", Type: base.FolderSent, Match: hasFlag(imap.SentAttr)},
	{Name: "attr-drafts", Type: base.FolderDrafts, Match: hasFlag(imap.DraftsAttr)},
	{Name: "attr-junk", Type: base.FolderSpam, Match: hasFlag(imap.JunkAttr)},
	{Name: "attr-trash", Type: base.FolderTrash, Match: hasFlag(imap.TrashAttr)},
	{Name: "attr-archive", Type: base.FolderArchive, Match: hasFlag(imap.ArchiveAttr)},

	{Name: "path-inbox", Type: base.FolderInbox, Match: func(f base.RemoteFolder) bool {
		return strings.EqualFold(f.Path, imap.InboxName)
	}},
	{Name: "path-sent", Type: base.FolderSent, Match: pathContains("sent")},
	{Name: "path-drafts", Type: base.FolderDrafts, Match: pathContains("draft")},
	{Name: "path-spam", Type: base.FolderSpam, Match: pathContains("spam", "junk")},
	{Name: "path-trash", Type: base.FolderTrash, Match: pathContains("trash", "deleted")},
	{Name: "path-archive", Type: base.FolderArchive, Match: pathContains("archive")},
}

// Classify returns the type of the first matching rule, or FolderCustom
// when nothing matches.
func Classify(f base.RemoteFolder) base.FolderType {
	for _, rule := range Rules {
		if rule.Match(f) {
			return rule.Type
		}
	}
	return base.FolderCustom
}

// SpecialUse returns the special-use attribute carried by the folder,
// or an empty string when the server declared none.
func SpecialUse(f base.RemoteFolder) string {
	specialUse := []string{
		imap.AllAttr,
		imap.ArchiveAttr,
		imap.DraftsAttr,
		imap.FlaggedAttr,
		imap.JunkAttr,
		imap.SentAttr,
		imap.TrashAttr,
	}
	for _, attr := range specialUse {
		for _, flag := range f.Flags {
			if strings.EqualFold(flag, attr) {
				return attr
			}
		}
	}
	return ""
}

// Selectable reports whether the folder can hold messages. Folders
// flagged \Noselect exist only as hierarchy nodes and are skipped by
// discovery entirely.
func Selectable(f base.RemoteFolder) bool {
	return !hasFlag(imap.NoSelectAttr)(f)
}

func hasFlag(attr string) func(f base.RemoteFolder) bool {
	return func(f base.RemoteFolder) bool {
		for _, flag := range f.Flags {
			if strings.EqualFold(flag, attr) {
				return true
			}
		}
		return false
	}
}

func pathContains(fragments ...string) func(f base.RemoteFolder) bool {
	return func(f base.RemoteFolder) bool {
		path := strings.ToLower(f.Path)
		for _, fragment := range fragments {
			if strings.Contains(path, fragment) {
				return true
			}
		}
		return false
	}
}

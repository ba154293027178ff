// Package mailstore defines the mail-store collaborator the sorter drives:
// account and folder directory, paginated message listing, MIME fetch and
// copy/move. Implementations live in sub-packages.
package mailstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFolderNotFound is returned when a folder handle no longer resolves.
var ErrFolderNotFound = errors.New("folder not found")

// AuthError indicates that the mail store rejected the credentials.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// FolderType classifies special-use folders.
type FolderType string

const (
	FolderTypeNone  FolderType = ""
	FolderTypeInbox FolderType = "inbox"
	FolderTypeSent  FolderType = "sent"
	FolderTypeTrash FolderType = "trash"
)

// Account is one mail account known to the store.
type Account struct {
	ID   string
	Name string
}

// Folder is a handle to a folder in the mail store.
type Folder struct {
	ID        string
	Name      string
	Path      string
	AccountID string
	Type      FolderType
}

// Message is the read-only envelope of a stored message. ID is the
// identity recorded by the ledger; Folder and UID locate the message in
// the store.
type Message struct {
	ID      string
	Subject string
	Author  string
	Date    time.Time
	Folder  Folder
	UID     uint32
}

// Page is one page of a folder listing. A non-empty Token means more
// pages are available through ContinueList.
type Page struct {
	Messages []Message
	Token    string
}

// Part is one node of a message's MIME structure.
type Part struct {
	ContentType string
	Body        string
	Parts       []Part
}

// Directory lists and manages accounts and folders.
type Directory interface {
	// Accounts lists the configured accounts.
	Accounts(ctx context.Context) ([]Account, error)

	// TopFolders lists the top-level folders of an account.
	TopFolders(ctx context.Context, account Account) ([]Folder, error)

	// SubFolders lists the immediate children of parent.
	SubFolders(ctx context.Context, parent Folder) ([]Folder, error)

	// CreateFolder creates a folder named name under parent. A zero
	// parent with a non-empty AccountID creates a top-level folder.
	CreateFolder(ctx context.Context, parent Folder, name string) (Folder, error)

	// DeleteFolder deletes folder and every descendant.
	DeleteFolder(ctx context.Context, folder Folder) error

	// EmptyTrash permanently removes the contents of the account's trash.
	EmptyTrash(ctx context.Context, account Account) error
}

// Messages reads and places messages.
type Messages interface {
	// List returns the first page of messages in folder.
	List(ctx context.Context, folder Folder) (*Page, error)

	// ContinueList returns the page following token.
	ContinueList(ctx context.Context, token string) (*Page, error)

	// Full fetches the MIME structure of msg.
	Full(ctx context.Context, msg Message) ([]Part, error)

	// Copy copies msgs into dest, leaving the originals in place.
	Copy(ctx context.Context, msgs []Message, dest Folder) error

	// Move moves msgs into dest and returns them as they now exist in
	// dest. Identifiers may change; an empty result means the store did
	// not confirm the move.
	Move(ctx context.Context, msgs []Message, dest Folder) ([]Message, error)
}

// MailStore is the full collaborator surface.
type MailStore interface {
	Directory
	Messages
}

// DefaultDelimiter separates folder levels when a store does not say
// otherwise.
const DefaultDelimiter = '/'

// Delimited is implemented by stores whose folder hierarchy uses a
// separator that folder names must not contain.
type Delimited interface {
	HierarchyDelimiter(ctx context.Context) (rune, error)
}

// HierarchyDelimiter returns the folder separator of dir, or
// DefaultDelimiter when dir does not report one.
func HierarchyDelimiter(ctx context.Context, dir Directory) (rune, error) {
	d, ok := dir.(Delimited)
	if !ok {
		return DefaultDelimiter, nil
	}
	delim, err := d.HierarchyDelimiter(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading hierarchy delimiter: %w", err)
	}
	if delim == 0 {
		return DefaultDelimiter, nil
	}
	return delim, nil
}

// ListAll drains every page of folder.
func ListAll(ctx context.Context, m Messages, folder Folder) ([]Message, error) {
	page, err := m.List(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folder.Path, err)
	}

	var all []Message
	for {
		all = append(all, page.Messages...)
		if page.Token == "" {
			return all, nil
		}
		page, err = m.ContinueList(ctx, page.Token)
		if err != nil {
			return all, fmt.Errorf("continuing listing of %s: %w", folder.Path, err)
		}
	}
}

// FindChild returns the child of folders named name.
func FindChild(folders []Folder, name string) (Folder, bool) {
	for _, f := range folders {
		if f.Name == name {
			return f, true
		}
	}
	return Folder{}, false
}

// Package memstore is an in-memory mailstore.MailStore with an operation
// log and failure injection, used to exercise the sorter without a server.
package memstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nhle/mailsort/internal/mailstore"
)

// Op kinds recorded in the operation log.
const (
	OpCreate     = "create"
	OpDelete     = "delete"
	OpCopy       = "copy"
	OpMove       = "move"
	OpEmptyTrash = "empty_trash"
	OpFull       = "full"
)

// Op is one mutating (or body-fetching) call made against the store.
type Op struct {
	Kind      string
	Folder    string
	MessageID string
}

// Store implements mailstore.MailStore in memory. Folder paths are
// slash-joined names; top-level folders have their name as path.
type Store struct {
	mu sync.Mutex

	accounts []mailstore.Account
	folders  map[string]mailstore.Folder
	children map[string][]string
	messages map[string][]mailstore.Message
	bodies   map[string][]mailstore.Part
	cursors  map[string]cursor
	nextID   int
	nextUID  uint32
	ops      []Op

	// PageSize bounds List/ContinueList pages. Zero means 50.
	PageSize int

	// FailCreate makes CreateFolder fail for the given folder names.
	FailCreate map[string]error
	// FailCopy makes Copy fail when the destination path matches.
	FailCopy map[string]error
	// FailFull makes Full fail for the given message IDs.
	FailFull map[string]error
	// FailList makes List fail for the given folder paths.
	FailList map[string]error
	// FailDelete makes DeleteFolder fail.
	FailDelete error
	// FailEmptyTrash makes EmptyTrash fail.
	FailEmptyTrash error
	// MoveReturnsNothing makes Move succeed without confirming the result.
	MoveReturnsNothing bool
	// RenumberOnMove gives moved messages a fresh ID.
	RenumberOnMove bool

	// Delim is the reported hierarchy delimiter. Zero means '/'. Like an
	// IMAP server, CreateFolder nests a name containing it.
	Delim rune
}

type cursor struct {
	folderID string
	offset   int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		folders:    make(map[string]mailstore.Folder),
		children:   make(map[string][]string),
		messages:   make(map[string][]mailstore.Message),
		bodies:     make(map[string][]mailstore.Part),
		cursors:    make(map[string]cursor),
		FailCreate: make(map[string]error),
		FailCopy:   make(map[string]error),
		FailFull:   make(map[string]error),
		FailList:   make(map[string]error),
	}
}

func (s *Store) id(prefix string) string {
	s.nextID++
	return prefix + strconv.Itoa(s.nextID)
}

func accountKey(accountID string) string { return "account:" + accountID }

// AddAccount registers an account.
func (s *Store) AddAccount(name string) mailstore.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := mailstore.Account{ID: s.id("a"), Name: name}
	s.accounts = append(s.accounts, acc)
	return acc
}

// AddTopFolder creates a top-level folder of the given type.
func (s *Store) AddTopFolder(acc mailstore.Account, name string, typ mailstore.FolderType) mailstore.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := mailstore.Folder{ID: s.id("f"), Name: name, Path: name, AccountID: acc.ID, Type: typ}
	s.folders[f.ID] = f
	s.children[accountKey(acc.ID)] = append(s.children[accountKey(acc.ID)], f.ID)
	return f
}

// AddFolder creates a plain folder under parent without logging an op.
func (s *Store) AddFolder(parent mailstore.Folder, name string) mailstore.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addChild(parent, name)
}

func (s *Store) addChild(parent mailstore.Folder, name string) mailstore.Folder {
	f := mailstore.Folder{
		ID:        s.id("f"),
		Name:      name,
		Path:      parent.Path + "/" + name,
		AccountID: parent.AccountID,
	}
	s.folders[f.ID] = f
	s.children[parent.ID] = append(s.children[parent.ID], f.ID)
	return f
}

// AddMessage stores a message in folder with a single text/plain body
// part. An empty id gets a generated one.
func (s *Store) AddMessage(folder mailstore.Folder, msg mailstore.Message, body string) mailstore.Message {
	return s.AddMessageParts(folder, msg, []mailstore.Part{{ContentType: "text/plain", Body: body}})
}

// AddMessageParts stores a message with an explicit MIME structure.
func (s *Store) AddMessageParts(folder mailstore.Folder, msg mailstore.Message, parts []mailstore.Part) mailstore.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = s.id("m")
	}
	s.nextUID++
	msg.UID = s.nextUID
	msg.Folder = s.folders[folder.ID]
	s.messages[folder.ID] = append(s.messages[folder.ID], msg)
	s.bodies[msg.ID] = parts
	return msg
}

// Folder resolves a folder by path.
func (s *Store) Folder(path string) (mailstore.Folder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.folders {
		if f.Path == path {
			return f, true
		}
	}
	return mailstore.Folder{}, false
}

// MessagesIn returns the messages stored at path.
func (s *Store) MessagesIn(path string) []mailstore.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range s.folders {
		if f.Path == path {
			return append([]mailstore.Message(nil), s.messages[id]...)
		}
	}
	return nil
}

// Ops returns a copy of the operation log.
func (s *Store) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// CountOps counts logged operations of the given kind.
func (s *Store) CountOps(kind string) int {
	n := 0
	for _, op := range s.Ops() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// ResetOps clears the operation log.
func (s *Store) ResetOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

// Accounts implements mailstore.Directory.
func (s *Store) Accounts(_ context.Context) ([]mailstore.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mailstore.Account(nil), s.accounts...), nil
}

// TopFolders implements mailstore.Directory.
func (s *Store) TopFolders(_ context.Context, acc mailstore.Account) ([]mailstore.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(accountKey(acc.ID)), nil
}

// SubFolders implements mailstore.Directory.
func (s *Store) SubFolders(_ context.Context, parent mailstore.Folder) ([]mailstore.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.folders[parent.ID]; !ok {
		return nil, fmt.Errorf("%s: %w", parent.Path, mailstore.ErrFolderNotFound)
	}
	return s.list(parent.ID), nil
}

func (s *Store) list(key string) []mailstore.Folder {
	ids := s.children[key]
	out := make([]mailstore.Folder, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.folders[id])
	}
	return out
}

// HierarchyDelimiter implements mailstore.Delimited.
func (s *Store) HierarchyDelimiter(_ context.Context) (rune, error) {
	return s.delimiter(), nil
}

func (s *Store) delimiter() rune {
	if s.Delim == 0 {
		return mailstore.DefaultDelimiter
	}
	return s.Delim
}

// CreateFolder implements mailstore.Directory.
func (s *Store) CreateFolder(_ context.Context, parent mailstore.Folder, name string) (mailstore.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailCreate[name]; err != nil {
		return mailstore.Folder{}, err
	}
	if parent.ID != "" {
		if _, ok := s.folders[parent.ID]; !ok {
			return mailstore.Folder{}, fmt.Errorf("%s: %w", parent.Path, mailstore.ErrFolderNotFound)
		}
	}

	segments := strings.Split(name, string(s.delimiter()))
	if len(segments) == 1 {
		for _, f := range s.childrenOf(parent) {
			if f.Name == name {
				return mailstore.Folder{}, fmt.Errorf("folder %s/%s already exists", parent.Path, name)
			}
		}
		return s.create(parent, name), nil
	}

	// The delimiter splits the name into levels, reusing existing ones.
	cur := parent
	for _, seg := range segments {
		next, ok := mailstore.FindChild(s.childrenOf(cur), seg)
		if !ok {
			next = s.create(cur, seg)
		}
		cur = next
	}
	return cur, nil
}

func (s *Store) childrenOf(parent mailstore.Folder) []mailstore.Folder {
	if parent.ID == "" {
		return s.list(accountKey(parent.AccountID))
	}
	return s.list(parent.ID)
}

func (s *Store) create(parent mailstore.Folder, name string) mailstore.Folder {
	var f mailstore.Folder
	if parent.ID == "" {
		f = mailstore.Folder{ID: s.id("f"), Name: name, Path: name, AccountID: parent.AccountID}
		s.folders[f.ID] = f
		s.children[accountKey(parent.AccountID)] = append(s.children[accountKey(parent.AccountID)], f.ID)
	} else {
		f = s.addChild(parent, name)
	}
	s.ops = append(s.ops, Op{Kind: OpCreate, Folder: f.Path})
	return f
}

// DeleteFolder implements mailstore.Directory. Messages of the deleted
// subtree land in the account's trash.
func (s *Store) DeleteFolder(_ context.Context, folder mailstore.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailDelete != nil {
		return s.FailDelete
	}
	if _, ok := s.folders[folder.ID]; !ok {
		return fmt.Errorf("%s: %w", folder.Path, mailstore.ErrFolderNotFound)
	}

	trash := s.trashOf(folder.AccountID)

	queue := []string{folder.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		queue = append(queue, s.children[id]...)

		if trash != "" {
			for _, m := range s.messages[id] {
				m.Folder = s.folders[trash]
				s.messages[trash] = append(s.messages[trash], m)
			}
		}
		delete(s.messages, id)
		delete(s.children, id)
		delete(s.folders, id)
	}

	for key, ids := range s.children {
		s.children[key] = removeID(ids, folder.ID)
	}

	s.ops = append(s.ops, Op{Kind: OpDelete, Folder: folder.Path})
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (s *Store) trashOf(accountID string) string {
	for id, f := range s.folders {
		if f.AccountID == accountID && f.Type == mailstore.FolderTypeTrash {
			return id
		}
	}
	return ""
}

// EmptyTrash implements mailstore.Directory.
func (s *Store) EmptyTrash(_ context.Context, acc mailstore.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailEmptyTrash != nil {
		return s.FailEmptyTrash
	}
	trash := s.trashOf(acc.ID)
	if trash == "" {
		return fmt.Errorf("no trash folder for account %s", acc.Name)
	}
	s.messages[trash] = nil
	s.ops = append(s.ops, Op{Kind: OpEmptyTrash, Folder: s.folders[trash].Path})
	return nil
}

func (s *Store) pageSize() int {
	if s.PageSize <= 0 {
		return 50
	}
	return s.PageSize
}

// List implements mailstore.Messages.
func (s *Store) List(_ context.Context, folder mailstore.Folder) (*mailstore.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailList[folder.Path]; err != nil {
		return nil, err
	}
	if _, ok := s.folders[folder.ID]; !ok {
		return nil, fmt.Errorf("%s: %w", folder.Path, mailstore.ErrFolderNotFound)
	}
	return s.page(cursor{folderID: folder.ID}), nil
}

// ContinueList implements mailstore.Messages.
func (s *Store) ContinueList(_ context.Context, token string) (*mailstore.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cursors[token]
	if !ok {
		return nil, fmt.Errorf("unknown page token %q", token)
	}
	delete(s.cursors, token)
	return s.page(c), nil
}

func (s *Store) page(c cursor) *mailstore.Page {
	msgs := s.messages[c.folderID]
	end := c.offset + s.pageSize()
	if end > len(msgs) {
		end = len(msgs)
	}

	page := &mailstore.Page{}
	if c.offset < len(msgs) {
		page.Messages = append(page.Messages, msgs[c.offset:end]...)
	}
	if end < len(msgs) {
		token := s.id("page")
		s.cursors[token] = cursor{folderID: c.folderID, offset: end}
		page.Token = token
	}
	return page
}

// Full implements mailstore.Messages.
func (s *Store) Full(_ context.Context, msg mailstore.Message) ([]mailstore.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, Op{Kind: OpFull, MessageID: msg.ID})
	if err := s.FailFull[msg.ID]; err != nil {
		return nil, err
	}
	parts, ok := s.bodies[msg.ID]
	if !ok {
		return nil, fmt.Errorf("message %s not found", msg.ID)
	}
	return parts, nil
}

// Copy implements mailstore.Messages.
func (s *Store) Copy(_ context.Context, msgs []mailstore.Message, dest mailstore.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailCopy[dest.Path]; err != nil {
		return err
	}
	target, ok := s.folders[dest.ID]
	if !ok {
		return fmt.Errorf("%s: %w", dest.Path, mailstore.ErrFolderNotFound)
	}

	for _, m := range msgs {
		s.nextUID++
		m.UID = s.nextUID
		m.Folder = target
		s.messages[dest.ID] = append(s.messages[dest.ID], m)
		s.ops = append(s.ops, Op{Kind: OpCopy, Folder: target.Path, MessageID: m.ID})
	}
	return nil
}

// Move implements mailstore.Messages.
func (s *Store) Move(_ context.Context, msgs []mailstore.Message, dest mailstore.Folder) ([]mailstore.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.folders[dest.ID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dest.Path, mailstore.ErrFolderNotFound)
	}

	var moved []mailstore.Message
	for _, m := range msgs {
		src := s.messages[m.Folder.ID]
		idx := -1
		for i, candidate := range src {
			if candidate.UID == m.UID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return moved, fmt.Errorf("message %s not in %s", m.ID, m.Folder.Path)
		}
		s.messages[m.Folder.ID] = append(src[:idx:idx], src[idx+1:]...)

		if s.RenumberOnMove {
			body := s.bodies[m.ID]
			m.ID = s.id("m")
			s.bodies[m.ID] = body
		}
		s.nextUID++
		m.UID = s.nextUID
		m.Folder = target
		s.messages[dest.ID] = append(s.messages[dest.ID], m)
		s.ops = append(s.ops, Op{Kind: OpMove, Folder: target.Path, MessageID: m.ID})
		moved = append(moved, m)
	}

	if s.MoveReturnsNothing {
		return nil, nil
	}
	return moved, nil
}

// Tree renders the folder names below path, one slash-joined relative
// path per line, for assertions.
func (s *Store) Tree(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	prefix := path + "/"
	for _, f := range s.folders {
		if strings.HasPrefix(f.Path, prefix) {
			out = append(out, strings.TrimPrefix(f.Path, prefix))
		}
	}
	return out
}

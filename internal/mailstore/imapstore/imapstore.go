// Package imapstore implements mailstore.MailStore on top of an IMAP
// server using go-imap v2.
package imapstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/google/uuid"

	"github.com/nhle/mailsort/internal/mailstore"
)

const defaultPageSize = 100

// Config holds the IMAP connection settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
	// Account is the display name of the single account this store
	// exposes. Defaults to Username.
	Account  string
	PageSize int
}

// Store is an IMAP-backed mail store. It keeps one authenticated
// connection and serializes commands over it.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
	delim  rune
	pages  map[string]pendingPage
}

type pendingPage struct {
	folder      mailstore.Folder
	uidValidity uint32
	uids        []imap.UID
}

var (
	_ mailstore.MailStore = (*Store)(nil)
	_ mailstore.Delimited = (*Store)(nil)
)

// New creates a store. No connection is made until the first call.
func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Account == "" {
		cfg.Account = cfg.Username
	}
	return &Store{
		cfg:    cfg,
		logger: logger.With("component", "imapstore"),
		delim:  '/',
		pages:  make(map[string]pendingPage),
	}
}

// connect dials the server and authenticates. A rejected login is
// reported as a mailstore.AuthError.
func (s *Store) connect() (*imapclient.Client, error) {
	addr := s.cfg.Host + ":" + s.cfg.Port

	var client *imapclient.Client
	var err error

	if s.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &mailstore.AuthError{
			Username: s.cfg.Username,
			Message:  fmt.Sprintf("authentication failed: %v", err),
		}
	}

	return client, nil
}

// withClient runs fn with the shared connection, dialing on demand. A
// transport failure drops the connection so the next call redials.
func (s *Store) withClient(ctx context.Context, fn func(c *imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		c, err := s.connect()
		if err != nil {
			return err
		}
		s.client = c
	}

	err := fn(s.client)
	if err != nil && !isProtocolError(err) {
		s.logger.Warn("dropping IMAP connection", "error", err)
		_ = s.client.Close()
		s.client = nil
	}
	return err
}

func isProtocolError(err error) bool {
	var imapErr *imap.Error
	return errors.As(err, &imapErr) || errors.Is(err, mailstore.ErrFolderNotFound)
}

// Close logs out and releases the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Logout().Wait()
	s.client = nil
	return err
}

func (s *Store) account() mailstore.Account {
	return mailstore.Account{ID: s.cfg.Username, Name: s.cfg.Account}
}

// Accounts implements mailstore.Directory. An IMAP login is one account.
func (s *Store) Accounts(_ context.Context) ([]mailstore.Account, error) {
	return []mailstore.Account{s.account()}, nil
}

func (s *Store) listAll(c *imapclient.Client) ([]mailstore.Folder, error) {
	mailboxes, err := c.List("", "*", &imap.ListOptions{ReturnSpecialUse: true}).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	folders := make([]mailstore.Folder, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		if mbox.Delim != 0 {
			s.delim = mbox.Delim
		}
		folders = append(folders, folderFromList(mbox, s.cfg.Username))
	}
	return folders, nil
}

func folderFromList(mbox *imap.ListData, accountID string) mailstore.Folder {
	name := mbox.Mailbox
	if mbox.Delim != 0 {
		if i := strings.LastIndexByte(name, byte(mbox.Delim)); i >= 0 {
			name = name[i+1:]
		}
	}

	typ := mailstore.FolderTypeNone
	switch {
	case strings.EqualFold(mbox.Mailbox, "INBOX"):
		typ = mailstore.FolderTypeInbox
	case hasAttr(mbox.Attrs, imap.MailboxAttrSent):
		typ = mailstore.FolderTypeSent
	case hasAttr(mbox.Attrs, imap.MailboxAttrTrash):
		typ = mailstore.FolderTypeTrash
	}

	return mailstore.Folder{
		ID:        mbox.Mailbox,
		Name:      name,
		Path:      mbox.Mailbox,
		AccountID: accountID,
		Type:      typ,
	}
}

func hasAttr(attrs []imap.MailboxAttr, want imap.MailboxAttr) bool {
	for _, a := range attrs {
		if strings.EqualFold(string(a), string(want)) {
			return true
		}
	}
	return false
}

// childrenOf returns the immediate children of parent ("" for the top
// level) among folders.
func childrenOf(folders []mailstore.Folder, parent string, delim rune) []mailstore.Folder {
	var prefix string
	if parent != "" {
		prefix = parent + string(delim)
	}

	var out []mailstore.Folder
	for _, f := range folders {
		if !strings.HasPrefix(f.Path, prefix) || f.Path == parent {
			continue
		}
		if strings.ContainsRune(f.Path[len(prefix):], delim) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TopFolders implements mailstore.Directory.
func (s *Store) TopFolders(ctx context.Context, _ mailstore.Account) ([]mailstore.Folder, error) {
	var out []mailstore.Folder
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		all, err := s.listAll(c)
		if err != nil {
			return err
		}
		out = childrenOf(all, "", s.delim)
		return nil
	})
	return out, err
}

// SubFolders implements mailstore.Directory.
func (s *Store) SubFolders(ctx context.Context, parent mailstore.Folder) ([]mailstore.Folder, error) {
	var out []mailstore.Folder
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		all, err := s.listAll(c)
		if err != nil {
			return err
		}
		if _, ok := findPath(all, parent.Path); !ok {
			return fmt.Errorf("%s: %w", parent.Path, mailstore.ErrFolderNotFound)
		}
		out = childrenOf(all, parent.Path, s.delim)
		return nil
	})
	return out, err
}

func findPath(folders []mailstore.Folder, path string) (mailstore.Folder, bool) {
	for _, f := range folders {
		if f.Path == path {
			return f, true
		}
	}
	return mailstore.Folder{}, false
}

// HierarchyDelimiter implements mailstore.Delimited with the separator
// the server reports in LIST responses.
func (s *Store) HierarchyDelimiter(ctx context.Context) (rune, error) {
	var delim rune
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		if _, err := s.listAll(c); err != nil {
			return err
		}
		delim = s.delim
		return nil
	})
	return delim, err
}

// CreateFolder implements mailstore.Directory. A name containing the
// hierarchy delimiter is rejected since the server would nest it.
func (s *Store) CreateFolder(ctx context.Context, parent mailstore.Folder, name string) (mailstore.Folder, error) {
	var folder mailstore.Folder
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		if strings.ContainsRune(name, s.delim) {
			return fmt.Errorf("folder name %q contains the hierarchy delimiter %q", name, s.delim)
		}
		path := name
		if parent.Path != "" {
			path = parent.Path + string(s.delim) + name
		}
		if err := c.Create(path, nil).Wait(); err != nil {
			return fmt.Errorf("creating mailbox %s: %w", path, err)
		}
		folder = mailstore.Folder{
			ID:        path,
			Name:      name,
			Path:      path,
			AccountID: s.cfg.Username,
		}
		return nil
	})
	return folder, err
}

// DeleteFolder implements mailstore.Directory. IMAP DELETE does not
// cascade, so descendants are removed deepest first.
func (s *Store) DeleteFolder(ctx context.Context, folder mailstore.Folder) error {
	return s.withClient(ctx, func(c *imapclient.Client) error {
		all, err := s.listAll(c)
		if err != nil {
			return err
		}

		prefix := folder.Path + string(s.delim)
		var doomed []string
		for _, f := range all {
			if strings.HasPrefix(f.Path, prefix) {
				doomed = append(doomed, f.Path)
			}
		}
		sort.Slice(doomed, func(i, j int) bool {
			di := strings.Count(doomed[i], string(s.delim))
			dj := strings.Count(doomed[j], string(s.delim))
			if di != dj {
				return di > dj
			}
			return doomed[i] < doomed[j]
		})
		doomed = append(doomed, folder.Path)

		for _, path := range doomed {
			if err := c.Delete(path).Wait(); err != nil {
				return fmt.Errorf("deleting mailbox %s: %w", path, err)
			}
		}
		return nil
	})
}

// EmptyTrash implements mailstore.Directory.
func (s *Store) EmptyTrash(ctx context.Context, _ mailstore.Account) error {
	return s.withClient(ctx, func(c *imapclient.Client) error {
		all, err := s.listAll(c)
		if err != nil {
			return err
		}

		var trash string
		for _, f := range all {
			if f.Type == mailstore.FolderTypeTrash {
				trash = f.Path
				break
			}
		}
		if trash == "" {
			if f, ok := findPath(all, "Trash"); ok {
				trash = f.Path
			}
		}
		if trash == "" {
			return fmt.Errorf("trash: %w", mailstore.ErrFolderNotFound)
		}

		sel, err := c.Select(trash, nil).Wait()
		if err != nil {
			return fmt.Errorf("selecting %s: %w", trash, err)
		}
		if sel.NumMessages == 0 {
			return nil
		}

		storeCmd := c.Store(imap.SeqSet{{Start: 1, Stop: 0}}, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("flagging %s contents deleted: %w", trash, err)
		}
		if err := c.Expunge().Close(); err != nil {
			return fmt.Errorf("expunging %s: %w", trash, err)
		}
		return nil
	})
}

// List implements mailstore.Messages.
func (s *Store) List(ctx context.Context, folder mailstore.Folder) (*mailstore.Page, error) {
	var page *mailstore.Page
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		sel, err := c.Select(folder.Path, nil).Wait()
		if err != nil {
			return fmt.Errorf("selecting %s: %w", folder.Path, err)
		}

		searchData, err := c.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching %s: %w", folder.Path, err)
		}

		page, err = s.nextPage(c, pendingPage{
			folder:      folder,
			uidValidity: sel.UIDValidity,
			uids:        searchData.AllUIDs(),
		})
		return err
	})
	return page, err
}

// ContinueList implements mailstore.Messages.
func (s *Store) ContinueList(ctx context.Context, token string) (*mailstore.Page, error) {
	var page *mailstore.Page
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		pending, ok := s.pages[token]
		if !ok {
			return fmt.Errorf("unknown page token %q", token)
		}
		delete(s.pages, token)

		sel, err := c.Select(pending.folder.Path, nil).Wait()
		if err != nil {
			return fmt.Errorf("selecting %s: %w", pending.folder.Path, err)
		}
		if sel.UIDValidity != pending.uidValidity {
			return fmt.Errorf("%s: UIDVALIDITY changed during listing", pending.folder.Path)
		}

		page, err = s.nextPage(c, pending)
		return err
	})
	return page, err
}

// nextPage fetches the envelopes of the next page of pending UIDs, which
// must belong to the currently selected mailbox.
func (s *Store) nextPage(c *imapclient.Client, pending pendingPage) (*mailstore.Page, error) {
	n := min(s.cfg.PageSize, len(pending.uids))
	batch, rest := pending.uids[:n], pending.uids[n:]

	msgs, err := fetchEnvelopes(c, pending.folder, pending.uidValidity, batch)
	if err != nil {
		return nil, err
	}

	page := &mailstore.Page{Messages: msgs}
	if len(rest) > 0 {
		token := uuid.New().String()
		pending.uids = rest
		s.pages[token] = pending
		page.Token = token
	}
	return page, nil
}

func fetchEnvelopes(
	c *imapclient.Client, folder mailstore.Folder, uidValidity uint32, uids []imap.UID,
) ([]mailstore.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	})
	defer fetchCmd.Close()

	var msgs []mailstore.Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		msgs = append(msgs, messageFromBuffer(buf, folder, uidValidity))
	}

	if err := fetchCmd.Close(); err != nil {
		return msgs, fmt.Errorf("fetching envelopes from %s: %w", folder.Path, err)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].UID < msgs[j].UID })
	return msgs, nil
}

// messageFromBuffer converts a fetched envelope into a mailstore.Message.
func messageFromBuffer(
	buf *imapclient.FetchMessageBuffer, folder mailstore.Folder, uidValidity uint32,
) mailstore.Message {
	msg := mailstore.Message{
		UID:    uint32(buf.UID),
		Folder: folder,
	}

	var messageID string
	if buf.Envelope != nil {
		messageID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject
		msg.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				msg.Author = from.Name + " <" + from.Addr() + ">"
			} else {
				msg.Author = from.Addr()
			}
		}
	}
	msg.ID = messageIdentity(messageID, folder.Path, uidValidity, msg.UID)

	return msg
}

// messageIdentity prefers the Message-ID header, which survives copies
// and moves. Messages without one fall back to a mailbox-scoped UID.
func messageIdentity(messageID, mailbox string, uidValidity, uid uint32) string {
	id := strings.Trim(strings.TrimSpace(messageID), "<>")
	if id != "" {
		return id
	}
	return fmt.Sprintf("%s:%d:%d", mailbox, uidValidity, uid)
}

// Full implements mailstore.Messages.
func (s *Store) Full(ctx context.Context, msg mailstore.Message) ([]mailstore.Part, error) {
	var parts []mailstore.Part
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(msg.Folder.Path, nil).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", msg.Folder.Path, err)
		}

		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchCmd := c.Fetch(imap.UIDSetNum(imap.UID(msg.UID)), &imap.FetchOptions{
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		})
		defer fetchCmd.Close()

		fetched := fetchCmd.Next()
		if fetched == nil {
			return fmt.Errorf("message UID %d not found in %s", msg.UID, msg.Folder.Path)
		}

		buf, err := fetched.Collect()
		if err != nil {
			return fmt.Errorf("collecting message data: %w", err)
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			return fmt.Errorf("message UID %d has no body", msg.UID)
		}

		part, err := parseMessage(raw)
		if err != nil {
			return err
		}
		parts = []mailstore.Part{part}

		return fetchCmd.Close()
	})
	return parts, err
}

// groupByFolder splits msgs by source mailbox, preserving first-seen
// mailbox order.
func groupByFolder(msgs []mailstore.Message) ([]string, map[string][]mailstore.Message) {
	var order []string
	groups := make(map[string][]mailstore.Message)
	for _, m := range msgs {
		if _, ok := groups[m.Folder.Path]; !ok {
			order = append(order, m.Folder.Path)
		}
		groups[m.Folder.Path] = append(groups[m.Folder.Path], m)
	}
	return order, groups
}

func uidSetOf(msgs []mailstore.Message) imap.UIDSet {
	uids := make([]imap.UID, 0, len(msgs))
	for _, m := range msgs {
		uids = append(uids, imap.UID(m.UID))
	}
	return imap.UIDSetNum(uids...)
}

// Copy implements mailstore.Messages.
func (s *Store) Copy(ctx context.Context, msgs []mailstore.Message, dest mailstore.Folder) error {
	return s.withClient(ctx, func(c *imapclient.Client) error {
		order, groups := groupByFolder(msgs)
		for _, src := range order {
			if _, err := c.Select(src, nil).Wait(); err != nil {
				return fmt.Errorf("selecting %s: %w", src, err)
			}
			if _, err := c.Copy(uidSetOf(groups[src]), dest.Path).Wait(); err != nil {
				return fmt.Errorf("copying from %s to %s: %w", src, dest.Path, err)
			}
		}
		return nil
	})
}

// Move implements mailstore.Messages. The moved messages are re-read
// from dest through the COPYUID response; a server that does not report
// COPYUID yields an empty result.
func (s *Store) Move(ctx context.Context, msgs []mailstore.Message, dest mailstore.Folder) ([]mailstore.Message, error) {
	var moved []mailstore.Message
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		order, groups := groupByFolder(msgs)
		var destUIDs []imap.UID
		var destValidity uint32

		for _, src := range order {
			if _, err := c.Select(src, nil).Wait(); err != nil {
				return fmt.Errorf("selecting %s: %w", src, err)
			}
			moveData, err := c.Move(uidSetOf(groups[src]), dest.Path).Wait()
			if err != nil {
				return fmt.Errorf("moving from %s to %s: %w", src, dest.Path, err)
			}
			if moveData == nil {
				continue
			}
			destValidity = moveData.UIDValidity
			destUIDs = append(destUIDs, uidsOf(moveData.DestUIDs)...)
		}

		if len(destUIDs) == 0 {
			return nil
		}

		sel, err := c.Select(dest.Path, nil).Wait()
		if err != nil {
			return fmt.Errorf("selecting %s: %w", dest.Path, err)
		}
		if destValidity == 0 {
			destValidity = sel.UIDValidity
		}

		moved, err = fetchEnvelopes(c, dest, destValidity, destUIDs)
		return err
	})
	return moved, err
}

// uidsOf flattens a COPYUID set into individual UIDs.
func uidsOf(set any) []imap.UID {
	uidSet, ok := set.(imap.UIDSet)
	if !ok {
		return nil
	}

	var uids []imap.UID
	for _, r := range uidSet {
		if r.Stop == 0 || r.Stop < r.Start {
			continue
		}
		for uid := r.Start; ; uid++ {
			uids = append(uids, uid)
			if uid == r.Stop {
				break
			}
		}
	}
	return uids
}

package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nhle/mailsort/internal/mailstore"
)

// SourceKinds selects which folders provide candidate messages.
type SourceKinds struct {
	Inbox bool
	Sent  bool
}

// ParseSourceKinds converts configured source names ("inbox", "sent").
func ParseSourceKinds(names []string) (SourceKinds, error) {
	var k SourceKinds
	for _, n := range names {
		switch n {
		case "inbox":
			k.Inbox = true
		case "sent":
			k.Sent = true
		default:
			return SourceKinds{}, fmt.Errorf("unknown source folder kind %q", n)
		}
	}
	return k, nil
}

func (k SourceKinds) accepts(f mailstore.Folder) bool {
	switch f.Type {
	case mailstore.FolderTypeInbox:
		return k.Inbox
	case mailstore.FolderTypeSent:
		return k.Sent
	case mailstore.FolderTypeNone:
		name := strings.ToLower(f.Name)
		path := strings.ToLower(f.Path)
		if k.Sent && (strings.Contains(name, "sent") || strings.Contains(path, "sent") ||
			strings.Contains(name, "envoy") || strings.Contains(path, "envoy")) {
			return true
		}
		if k.Inbox && (name == "inbox" || strings.HasSuffix(path, "/inbox")) {
			return true
		}
	}
	return false
}

// CollectCandidates gathers the messages of every source folder across
// all accounts, skipping the taxonomy root and its subtree. Messages are
// deduplicated by id in first-seen order. Folders that cannot be listed
// are logged and skipped.
func CollectCandidates(ctx context.Context, dir mailstore.Directory, msgs mailstore.Messages, kinds SourceKinds, root mailstore.Folder, logger *slog.Logger) ([]mailstore.Message, error) {
	if logger == nil {
		logger = slog.Default()
	}

	accounts, err := dir.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	var queue []mailstore.Folder
	for _, acc := range accounts {
		top, err := dir.TopFolders(ctx, acc)
		if err != nil {
			logger.Warn("listing top folders failed", "account", acc.Name, "error", err)
			continue
		}
		queue = append(queue, top...)
	}

	seen := make(map[string]struct{})
	var out []mailstore.Message

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		f := queue[0]
		queue = queue[1:]

		if f.ID == root.ID && f.AccountID == root.AccountID {
			continue
		}

		children, err := dir.SubFolders(ctx, f)
		if err != nil {
			logger.Warn("listing subfolders failed", "folder", f.Path, "error", err)
		} else {
			queue = append(queue, children...)
		}

		if !kinds.accepts(f) {
			continue
		}

		list, err := mailstore.ListAll(ctx, msgs, f)
		if err != nil {
			logger.Warn("listing source folder failed", "folder", f.Path, "error", err)
			continue
		}
		for _, m := range list {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}

	logger.Debug("collected candidates", "count", len(out))
	return out, nil
}

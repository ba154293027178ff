package classify

import (
	"context"
	"fmt"
	"sort"

	"github.com/nhle/mailsort/internal/mailstore"
)

// FolderMessages lists every message in the folder of path, newest first.
func FolderMessages(ctx context.Context, msgs mailstore.Messages, rc *RunContext, path string) ([]mailstore.Message, error) {
	folder, ok := rc.Folders[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownPath)
	}
	list, err := mailstore.ListAll(ctx, msgs, folder)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	return list, nil
}

func sortNewestFirst(list []mailstore.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Date.After(list[j].Date)
	})
}

// SeenSet persists which unclassified messages the user has been shown.
type SeenSet interface {
	SeenMessageIDs(ctx context.Context) (map[string]struct{}, error)
	ReplaceSeenMessageIDs(ctx context.Context, ids []string) error
}

// ViewItem is one entry of the unclassified view.
type ViewItem struct {
	mailstore.Message
	New bool
}

// UnclassifiedView lists the unclassified folder newest first, flagging
// messages not shown before. The seen set is then replaced by the listed
// ids, so messages removed from the folder drop out of it.
func UnclassifiedView(ctx context.Context, msgs mailstore.Messages, seen SeenSet, rc *RunContext) ([]ViewItem, error) {
	list, err := FolderMessages(ctx, msgs, rc, rc.UnclassifiedPath)
	if err != nil {
		return nil, err
	}

	prev, err := seen.SeenMessageIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading seen messages: %w", err)
	}

	items := make([]ViewItem, len(list))
	ids := make([]string, len(list))
	for i, m := range list {
		_, old := prev[m.ID]
		items[i] = ViewItem{Message: m, New: !old}
		ids[i] = m.ID
	}

	if err := seen.ReplaceSeenMessageIDs(ctx, ids); err != nil {
		return nil, fmt.Errorf("saving seen messages: %w", err)
	}
	return items, nil
}

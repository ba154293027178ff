// Package classify places messages into taxonomy folders by matching their
// subject, author and body against tag rules, and moves them between
// folders on request.
package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsort/internal/mailstore"
	"github.com/nhle/mailsort/internal/metrics"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/taxonomy"
)

// Stats summarizes one classification pass.
type Stats struct {
	Scanned      int
	Skipped      int
	Copied       int
	CopyFailures int
	Unclassified int
	BodyFetches  int
}

// Engine evaluates tag rules and copies matching messages.
type Engine struct {
	messages      mailstore.Messages
	notifications store.NotificationLog
	matcher       TagMatcher
	htmlFallback  bool
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatcher replaces the substring matcher.
func WithMatcher(m TagMatcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithHTMLFallback lets messages without a text/plain part be matched on
// their HTML part converted to text.
func WithHTMLFallback(enabled bool) Option {
	return func(e *Engine) { e.htmlFallback = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an Engine that copies through messages and logs
// unclassified placements to notifications.
func NewEngine(messages mailstore.Messages, notifications store.NotificationLog, opts ...Option) *Engine {
	e := &Engine{
		messages:      messages,
		notifications: notifications,
		matcher:       SubstringMatcher{},
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "classify")
	return e
}

// messageText holds the normalized fields of one message. The body is
// fetched on first use and at most once.
type messageText struct {
	subject string
	author  string

	body    string
	fetched bool
}

func (e *Engine) body(ctx context.Context, msg mailstore.Message, t *messageText, stats *Stats) string {
	if t.fetched {
		return t.body
	}
	t.fetched = true
	stats.BodyFetches++

	parts, err := e.messages.Full(ctx, msg)
	if err != nil {
		e.logger.Warn("fetching body failed, matching on headers only",
			"message_id", msg.ID, "error", err)
		return ""
	}
	t.body = taxonomy.Normalize(BodyText(parts, e.htmlFallback))
	return t.body
}

func (e *Engine) hits(ctx context.Context, msg mailstore.Message, tags taxonomy.TagSet, t *messageText, stats *Stats) bool {
	if len(tags) == 0 {
		return false
	}
	if e.matcher.Match(tags, t.subject, t.author) {
		return true
	}
	return e.matcher.Match(tags, e.body(ctx, msg, t, stats))
}

// Matches returns the taxonomy paths msg belongs to, in taxonomy order.
// A direct child of the root matches on its own tags alone; a deeper node
// needs both one of its own tags and one inherited tag to occur.
func (e *Engine) Matches(ctx context.Context, ix *taxonomy.Index, msg mailstore.Message) []string {
	var stats Stats
	return e.matches(ctx, ix, msg, &stats)
}

func (e *Engine) matches(ctx context.Context, ix *taxonomy.Index, msg mailstore.Message, stats *Stats) []string {
	t := &messageText{
		subject: taxonomy.Normalize(msg.Subject),
		author:  taxonomy.Normalize(msg.Author),
	}

	var matched []string
	for _, path := range ix.Paths {
		entry := ix.Entries[path]
		if !e.hits(ctx, msg, entry.OwnTags, t, stats) {
			continue
		}
		if !entry.DirectChildOfRoot && !e.hits(ctx, msg, entry.InheritedTags, t, stats) {
			continue
		}
		matched = append(matched, path)
	}
	return matched
}

// Classify copies every candidate into the folders it matches, or into
// the unclassified folder when it matches none. Messages already in the
// ledger are skipped. Copy failures are logged and retried on a later
// run; only a ledger write failure aborts the pass.
func (e *Engine) Classify(ctx context.Context, rc *RunContext, msgs []mailstore.Message) (Stats, error) {
	var stats Stats

	if _, ok := rc.Folders[rc.UnclassifiedPath]; !ok {
		e.logger.Warn("unclassified folder is not provisioned, unmatched messages stay in place",
			"path", rc.UnclassifiedPath)
	}

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Scanned++
		metrics.MessagesScannedTotal.Inc()

		if rc.Ledger.HasGlobal(msg.ID) {
			stats.Skipped++
			continue
		}

		matched := e.matches(ctx, rc.Index, msg, &stats)
		if len(matched) == 0 {
			if err := e.placeUnclassified(ctx, rc, msg, &stats); err != nil {
				return stats, err
			}
			continue
		}

		for _, path := range matched {
			if _, err := e.copyInto(ctx, rc, msg, path, &stats); err != nil {
				return stats, err
			}
		}
	}

	e.logger.Info("classification finished",
		"scanned", stats.Scanned,
		"skipped", stats.Skipped,
		"copied", stats.Copied,
		"copy_failures", stats.CopyFailures,
		"unclassified", stats.Unclassified,
		"body_fetches", stats.BodyFetches,
	)
	return stats, nil
}

// copyInto copies msg into the folder of path unless the ledger already
// has it there. It reports whether a copy was made. The returned error is
// a ledger failure; copy failures are logged.
func (e *Engine) copyInto(ctx context.Context, rc *RunContext, msg mailstore.Message, path string, stats *Stats) (bool, error) {
	folder, ok := rc.Folders[path]
	if !ok {
		e.logger.Debug("no folder for matched path", "path", path, "message_id", msg.ID)
		return false, nil
	}

	has, err := rc.Ledger.Has(ctx, path, msg.ID)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}

	if err := e.messages.Copy(ctx, []mailstore.Message{msg}, folder); err != nil {
		stats.CopyFailures++
		metrics.CopiesTotal.WithLabelValues("error").Inc()
		e.logger.Error("copy failed",
			"message_id", msg.ID, "subject", msg.Subject, "path", path, "error", err)
		return false, nil
	}

	if err := rc.Ledger.Record(ctx, path, msg.ID); err != nil {
		return false, err
	}

	stats.Copied++
	metrics.CopiesTotal.WithLabelValues("ok").Inc()
	e.logger.Debug("copied", "message_id", msg.ID, "path", path)
	return true, nil
}

func (e *Engine) placeUnclassified(ctx context.Context, rc *RunContext, msg mailstore.Message, stats *Stats) error {
	copied, err := e.copyInto(ctx, rc, msg, rc.UnclassifiedPath, stats)
	if err != nil || !copied {
		return err
	}

	stats.Unclassified++
	metrics.UnclassifiedTotal.Inc()

	if e.notifications == nil {
		return nil
	}
	n := model.Notification{
		ID:        uuid.New().String(),
		MessageID: msg.ID,
		Subject:   msg.Subject,
		Author:    msg.Author,
		Date:      msg.Date,
		CreatedAt: e.now(),
	}
	if err := e.notifications.AppendNotification(ctx, n); err != nil {
		e.logger.Warn("recording notification failed", "message_id", msg.ID, "error", err)
	}
	return nil
}

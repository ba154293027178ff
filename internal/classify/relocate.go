package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nhle/mailsort/internal/mailstore"
	"github.com/nhle/mailsort/internal/metrics"
)

var (
	// ErrUnknownPath is returned when a relocation names a path that has
	// no provisioned folder.
	ErrUnknownPath = errors.New("path has no provisioned folder")

	// ErrNotInSource is returned when the message cannot be found in the
	// source folder.
	ErrNotInSource = errors.New("message not found in source folder")

	// ErrUnconfirmedMove is returned when the mail store does not report
	// the moved message. The ledger is left untouched.
	ErrUnconfirmedMove = errors.New("move not confirmed by mail store")

	// ErrSamePath is returned when source and destination are equal.
	ErrSamePath = errors.New("source and destination are the same path")
)

// Relocator moves single messages between taxonomy folders and keeps the
// ledger consistent with the move.
type Relocator struct {
	messages mailstore.Messages
	logger   *slog.Logger
}

// NewRelocator returns a Relocator. A nil logger uses slog.Default().
func NewRelocator(messages mailstore.Messages, logger *slog.Logger) *Relocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relocator{messages: messages, logger: logger.With("component", "relocator")}
}

// Move moves the message identified by id from the folder of path from to
// the folder of path to, and returns the message as it now exists in the
// destination.
func (r *Relocator) Move(ctx context.Context, rc *RunContext, id, from, to string) (mailstore.Message, error) {
	msg, err := r.move(ctx, rc, id, from, to)
	if err != nil {
		metrics.RelocationsTotal.WithLabelValues(relocationResult(err)).Inc()
		return mailstore.Message{}, err
	}
	metrics.RelocationsTotal.WithLabelValues("ok").Inc()
	return msg, nil
}

func relocationResult(err error) string {
	switch {
	case errors.Is(err, ErrUnknownPath), errors.Is(err, ErrSamePath):
		return "rejected"
	case errors.Is(err, ErrNotInSource):
		return "stale"
	case errors.Is(err, ErrUnconfirmedMove):
		return "unconfirmed"
	default:
		return "error"
	}
}

func (r *Relocator) move(ctx context.Context, rc *RunContext, id, from, to string) (mailstore.Message, error) {
	if from == to {
		return mailstore.Message{}, fmt.Errorf("%s: %w", from, ErrSamePath)
	}
	src, ok := rc.Folders[from]
	if !ok {
		r.logger.Warn("unknown source path", "path", from, "message_id", id)
		return mailstore.Message{}, fmt.Errorf("%s: %w", from, ErrUnknownPath)
	}
	dst, ok := rc.Folders[to]
	if !ok {
		r.logger.Warn("unknown destination path", "path", to, "message_id", id)
		return mailstore.Message{}, fmt.Errorf("%s: %w", to, ErrUnknownPath)
	}

	current, err := mailstore.ListAll(ctx, r.messages, src)
	if err != nil {
		return mailstore.Message{}, err
	}
	msg, ok := findMessage(current, id)
	if !ok {
		r.logger.Warn("message not in source folder", "path", from, "message_id", id)
		return mailstore.Message{}, fmt.Errorf("%s in %s: %w", id, from, ErrNotInSource)
	}

	moved, err := r.messages.Move(ctx, []mailstore.Message{msg}, dst)
	if err != nil {
		r.logger.Error("move failed", "message_id", id, "from", from, "to", to, "error", err)
		return mailstore.Message{}, fmt.Errorf("moving %s to %s: %w", id, to, err)
	}
	if len(moved) == 0 {
		r.logger.Warn("move returned no message, ledger unchanged", "message_id", id, "from", from, "to", to)
		return mailstore.Message{}, fmt.Errorf("%s: %w", id, ErrUnconfirmedMove)
	}
	newMsg := moved[0]

	if err := rc.Ledger.Record(ctx, to, newMsg.ID); err != nil {
		return newMsg, fmt.Errorf("recording %s under %s: %w", newMsg.ID, to, err)
	}
	if newMsg.ID != id {
		rc.Ledger.DropGlobal(id)
	}
	if err := rc.Ledger.Forget(ctx, from, id); err != nil {
		return newMsg, fmt.Errorf("forgetting %s under %s: %w", id, from, err)
	}

	r.logger.Info("relocated message", "message_id", id, "new_id", newMsg.ID, "from", from, "to", to)
	return newMsg, nil
}

// MoveAll relocates every message of from into to. Failures are logged
// and counted; the number of moved messages is returned.
func (r *Relocator) MoveAll(ctx context.Context, rc *RunContext, from, to string) (int, error) {
	src, ok := rc.Folders[from]
	if !ok {
		return 0, fmt.Errorf("%s: %w", from, ErrUnknownPath)
	}
	msgs, err := mailstore.ListAll(ctx, r.messages, src)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		if _, err := r.Move(ctx, rc, m.ID, from, to); err != nil {
			if errors.Is(err, ErrUnknownPath) || errors.Is(err, ErrSamePath) {
				return moved, err
			}
			r.logger.Warn("skipping message", "message_id", m.ID, "error", err)
			continue
		}
		moved++
	}
	return moved, nil
}

func findMessage(msgs []mailstore.Message, id string) (mailstore.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return mailstore.Message{}, false
}

// Package drift detects when the taxonomy and the mailbox folder tree no
// longer agree, and rebuilds the tree from scratch when they do not.
package drift

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/mailsort/internal/folders"
	"github.com/nhle/mailsort/internal/ledger"
	"github.com/nhle/mailsort/internal/mailstore"
	"github.com/nhle/mailsort/internal/metrics"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/taxonomy"
)

// Reason names why a rebuild is needed.
type Reason string

const (
	ReasonMissingRoot Reason = "missing_root"
	ReasonStructure   Reason = "structure"
	ReasonTags        Reason = "tags"
)

// Report is the outcome of a drift check.
type Report struct {
	Reasons []Reason

	// Root is the existing root folder, valid when RootFound is set.
	Root      mailstore.Folder
	RootFound bool

	// Missing and Extra list folder paths, relative to the root, that the
	// taxonomy expects but the mailbox lacks and the other way round.
	Missing []string
	Extra   []string
}

// Drifted reports whether any check failed.
func (r Report) Drifted() bool { return len(r.Reasons) > 0 }

// Detector compares the expected folder tree and tag snapshot with what
// the mailbox and the ledger hold.
type Detector struct {
	dir           mailstore.Directory
	notifications store.NotificationLog
	provisioner   *folders.Provisioner
	logger        *slog.Logger
}

// NewDetector returns a Detector. A nil logger uses slog.Default().
func NewDetector(dir mailstore.Directory, notifications store.NotificationLog, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		dir:           dir,
		notifications: notifications,
		provisioner:   folders.NewProvisioner(dir, logger),
		logger:        logger.With("component", "drift"),
	}
}

// Check runs the structural and the tag check.
func (d *Detector) Check(ctx context.Context, acc mailstore.Account, plan folders.Plan, snap taxonomy.TagSnapshot, l *ledger.Ledger) (Report, error) {
	var rep Report

	root, ok, err := folders.FindRoot(ctx, d.dir, acc, plan.Root().Name)
	if err != nil {
		return rep, err
	}
	rep.Root, rep.RootFound = root, ok

	if !ok {
		rep.Reasons = append(rep.Reasons, ReasonMissingRoot)
	} else {
		actual, err := folders.ActualShape(ctx, d.dir, root)
		if err != nil {
			return rep, err
		}
		expected := plan.Shape()
		if !expected.Equal(actual) {
			rep.Missing, rep.Extra = expected.Diff(actual)
			rep.Reasons = append(rep.Reasons, ReasonStructure)
		}
	}

	persisted, err := l.LoadSnapshot(ctx)
	if err != nil {
		return rep, err
	}
	if !snap.Equal(persisted) {
		rep.Reasons = append(rep.Reasons, ReasonTags)
	}

	if rep.Drifted() {
		d.logger.Info("drift detected",
			"reasons", rep.Reasons, "missing", rep.Missing, "extra", rep.Extra)
	}
	return rep, nil
}

// Rebuild deletes the root folder and everything below it, clears the
// ledger, the tag snapshot and the notification log, empties the trash,
// recreates the root and provisions the full tree. Folder deletion,
// trash and notification failures are logged and the rebuild carries on;
// a folder left behind is picked up again by the next check.
func (d *Detector) Rebuild(ctx context.Context, acc mailstore.Account, plan folders.Plan, snap taxonomy.TagSnapshot, l *ledger.Ledger, rep Report) (mailstore.Folder, folders.Map, error) {
	for _, r := range rep.Reasons {
		metrics.DriftRebuildsTotal.WithLabelValues(string(r)).Inc()
	}

	if rep.RootFound {
		if err := d.dir.DeleteFolder(ctx, rep.Root); err != nil {
			d.logger.Error("deleting root folder failed", "folder", rep.Root.Path, "error", err)
		}
	}

	if err := l.ClearAll(ctx); err != nil {
		return mailstore.Folder{}, nil, fmt.Errorf("clearing ledger: %w", err)
	}

	if d.notifications != nil {
		if err := d.notifications.ClearNotifications(ctx); err != nil {
			d.logger.Warn("clearing notifications failed", "error", err)
		}
	}

	if err := d.dir.EmptyTrash(ctx, acc); err != nil {
		d.logger.Warn("emptying trash failed", "account", acc.Name, "error", err)
	}

	l.ResetGlobal()

	root, err := folders.EnsureRoot(ctx, d.dir, acc, plan.Root().Name)
	if err != nil {
		return mailstore.Folder{}, nil, err
	}

	if err := l.SaveSnapshot(ctx, snap); err != nil {
		return mailstore.Folder{}, nil, err
	}

	m, err := d.provisioner.Provision(ctx, plan, root)
	if err != nil {
		return mailstore.Folder{}, nil, err
	}

	d.logger.Info("rebuilt folder tree", "root", root.Path, "folders", len(m))
	return root, m, nil
}

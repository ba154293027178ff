// Package sync drives sorting runs: it serializes runs per mailbox,
// decides between rebuild and incremental mode, and schedules periodic
// runs.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nhle/mailsort/internal/classify"
	"github.com/nhle/mailsort/internal/drift"
	"github.com/nhle/mailsort/internal/folders"
	"github.com/nhle/mailsort/internal/ledger"
	"github.com/nhle/mailsort/internal/mailstore"
	"github.com/nhle/mailsort/internal/metrics"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/taxonomy"
)

// ErrNotProvisioned is returned when an operation needs the taxonomy
// folders but no run has created them yet.
var ErrNotProvisioned = errors.New("taxonomy folders are not provisioned, run first")

// Result summarizes one run.
type Result struct {
	// Skipped is set when there was nothing to classify against.
	Skipped    bool
	SkipReason string

	Drift      []drift.Reason
	Candidates int
	Stats      classify.Stats
	Duration   time.Duration
}

// Runner executes sorting runs for one mailbox. Concurrent Run calls
// share a single execution; runs and relocations never overlap.
type Runner struct {
	mail   mailstore.MailStore
	db     store.Store
	cfg    model.MailboxConfig
	kinds  classify.SourceKinds
	logger *slog.Logger

	engine      *classify.Engine
	relocator   *classify.Relocator
	detector    *drift.Detector
	provisioner *folders.Provisioner

	group singleflight.Group
	mu    gosync.Mutex
	last  *classify.RunContext
}

// NewRunner returns a Runner for the mailbox described by cfg.
func NewRunner(mail mailstore.MailStore, db store.Store, cfg model.MailboxConfig, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kinds, err := classify.ParseSourceKinds(cfg.Sources)
	if err != nil {
		return nil, err
	}
	return &Runner{
		mail:   mail,
		db:     db,
		cfg:    cfg,
		kinds:  kinds,
		logger: logger.With("component", "runner", "mailbox", mailboxKey(cfg)),
		engine: classify.NewEngine(mail, db,
			classify.WithHTMLFallback(cfg.HTMLFallback),
			classify.WithLogger(logger)),
		relocator:   classify.NewRelocator(mail, logger),
		detector:    drift.NewDetector(mail, db, logger),
		provisioner: folders.NewProvisioner(mail, logger),
	}, nil
}

func mailboxKey(cfg model.MailboxConfig) string {
	return cfg.Account + "/" + cfg.RootFolder
}

// Run performs one run. A caller arriving while a run is in flight waits
// for it and receives its result.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	v, err, shared := r.group.Do(mailboxKey(r.cfg), func() (any, error) {
		return r.run(ctx)
	})
	if shared {
		r.logger.Debug("joined in-flight run")
	}
	res, _ := v.(Result)
	return res, err
}

// prepared is the taxonomy-derived state of a run.
type prepared struct {
	tree *taxonomy.Tree
	plan folders.Plan
	acc  mailstore.Account
}

// errSkip carries the reason a run is skipped.
type errSkip struct{ reason string }

func (e errSkip) Error() string { return e.reason }

func (r *Runner) prepare(ctx context.Context) (prepared, error) {
	root, err := r.db.LoadTaxonomy(ctx)
	if err != nil {
		return prepared{}, errSkip{reason: fmt.Sprintf("loading taxonomy: %v", err)}
	}
	if root == nil {
		return prepared{}, errSkip{reason: taxonomy.ErrEmpty.Error()}
	}
	tree, err := taxonomy.Build(root, r.cfg.RootFolder)
	if err != nil {
		return prepared{}, errSkip{reason: err.Error()}
	}
	delim, err := mailstore.HierarchyDelimiter(ctx, r.mail)
	if err != nil {
		return prepared{}, err
	}
	plan, err := folders.NewPlan(tree, r.cfg.Unclassified, delim)
	if err != nil {
		return prepared{}, errSkip{reason: err.Error()}
	}
	acc, err := folders.ResolveAccount(ctx, r.mail, r.cfg.Account)
	if err != nil {
		return prepared{}, err
	}
	return prepared{tree: tree, plan: plan, acc: acc}, nil
}

func (r *Runner) run(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	res, err := r.runLocked(ctx)
	res.Duration = time.Since(start)
	metrics.RunDuration.Observe(res.Duration.Seconds())

	switch {
	case err != nil:
		metrics.RunsTotal.WithLabelValues("error").Inc()
		r.logger.Error("run failed", "error", err, "duration", res.Duration)
	case res.Skipped:
		metrics.RunsTotal.WithLabelValues("skipped").Inc()
		r.logger.Warn("run skipped", "reason", res.SkipReason)
	default:
		metrics.RunsTotal.WithLabelValues("ok").Inc()
		r.logger.Info("run finished",
			"candidates", res.Candidates,
			"copied", res.Stats.Copied,
			"unclassified", res.Stats.Unclassified,
			"drift", res.Drift,
			"duration", res.Duration)
	}
	return res, err
}

func (r *Runner) runLocked(ctx context.Context) (Result, error) {
	var res Result

	p, err := r.prepare(ctx)
	if err != nil {
		var skip errSkip
		if errors.As(err, &skip) {
			res.Skipped, res.SkipReason = true, skip.reason
			return res, nil
		}
		return res, err
	}

	l := ledger.New(r.db)
	snap := taxonomy.Snapshot(p.tree)

	rep, err := r.detector.Check(ctx, p.acc, p.plan, snap, l)
	if err != nil {
		return res, err
	}
	res.Drift = rep.Reasons

	var (
		root mailstore.Folder
		m    folders.Map
	)
	if rep.Drifted() {
		root, m, err = r.detector.Rebuild(ctx, p.acc, p.plan, snap, l, rep)
		if err != nil {
			return res, fmt.Errorf("rebuilding folders: %w", err)
		}
	} else {
		n, err := l.LoadAll(ctx)
		if err != nil {
			return res, err
		}
		r.logger.Debug("loaded ledger", "paths", n, "ids", l.GlobalSize())

		root = rep.Root
		m, err = r.provisioner.Provision(ctx, p.plan, root)
		if err != nil {
			return res, err
		}
	}

	rc := r.newRunContext(p, root, m, l)
	r.last = rc

	candidates, err := classify.CollectCandidates(ctx, r.mail, r.mail, r.kinds, root, r.logger)
	if err != nil {
		return res, err
	}
	res.Candidates = len(candidates)

	res.Stats, err = r.engine.Classify(ctx, rc, candidates)
	return res, err
}

func (r *Runner) newRunContext(p prepared, root mailstore.Folder, m folders.Map, l *ledger.Ledger) *classify.RunContext {
	return &classify.RunContext{
		Account:          p.acc,
		Root:             root,
		Tree:             p.tree,
		Index:            taxonomy.BuildIndex(p.tree),
		Folders:          m,
		Ledger:           l,
		UnclassifiedPath: p.plan.UnclassifiedPath(),
	}
}

// Context returns the run context of the last run, or builds one from the
// existing folders without classifying anything. Folders missing from the
// mailbox stay missing: repairing them is left to the next Run, whose drift
// check must still see them gone.
func (r *Runner) Context(ctx context.Context) (*classify.RunContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contextLocked(ctx)
}

func (r *Runner) contextLocked(ctx context.Context) (*classify.RunContext, error) {
	if r.last != nil {
		return r.last, nil
	}

	p, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}
	root, ok, err := folders.FindRoot(ctx, r.mail, p.acc, p.plan.Root().Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotProvisioned
	}

	l := ledger.New(r.db)
	if _, err := l.LoadAll(ctx); err != nil {
		return nil, err
	}
	m, err := r.provisioner.Resolve(ctx, p.plan, root)
	if err != nil {
		return nil, err
	}

	r.last = r.newRunContext(p, root, m, l)
	return r.last, nil
}

// Relocate moves one message between taxonomy folders.
func (r *Runner) Relocate(ctx context.Context, id, from, to string) (mailstore.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rc, err := r.contextLocked(ctx)
	if err != nil {
		return mailstore.Message{}, err
	}
	return r.relocator.Move(ctx, rc, id, from, to)
}

// RelocateAll moves every message of from into to.
func (r *Runner) RelocateAll(ctx context.Context, from, to string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rc, err := r.contextLocked(ctx)
	if err != nil {
		return 0, err
	}
	return r.relocator.MoveAll(ctx, rc, from, to)
}

package sync_test

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/drift"
	"github.com/nhle/mailsort/internal/mailstore"
	"github.com/nhle/mailsort/internal/mailstore/memstore"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/sync"
	"github.com/nhle/mailsort/tests/testutil"
)

func mailboxConfig() model.MailboxConfig {
	return model.MailboxConfig{
		RootFolder:   "Taxonomy",
		Unclassified: "Unclassified",
		Sources:      []string{"inbox", "sent"},
	}
}

func taxonomyWith(financeTags ...string) *model.TaxonomyNode {
	return &model.TaxonomyNode{Children: []*model.TaxonomyNode{
		{Topic: "Finance", Tags: financeTags, Children: []*model.TaxonomyNode{
			{Topic: "Taxes", Tags: []string{"vat"}},
		}},
		{Topic: "Travel", Tags: []string{"flight"}},
	}}
}

type harness struct {
	ms    *memstore.Store
	db    *store.SQLiteStore
	inbox mailstore.Folder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ms := memstore.New()
	acc := ms.AddAccount("local")
	inbox := ms.AddTopFolder(acc, "INBOX", mailstore.FolderTypeInbox)
	ms.AddTopFolder(acc, "Trash", mailstore.FolderTypeTrash)
	return &harness{ms: ms, db: testutil.NewTestStore(t), inbox: inbox}
}

func (h *harness) runner(t *testing.T) *sync.Runner {
	t.Helper()
	r, err := sync.NewRunner(h.ms, h.db, mailboxConfig(), nil)
	require.NoError(t, err)
	return r
}

func (h *harness) seed() {
	h.ms.AddMessage(h.inbox, mailstore.Message{Subject: "Invoice #12"}, "")
	h.ms.AddMessage(h.inbox, mailstore.Message{Subject: "VAT return"}, "invoice attached")
	h.ms.AddMessage(h.inbox, mailstore.Message{Subject: "Lunch?"}, "")
}

func TestRun_SkipsWithoutTaxonomy(t *testing.T) {
	h := newHarness(t)
	res, err := h.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, h.ms.CountOps(memstore.OpCreate))
}

func TestRun_SkipsReservedTopic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, &model.TaxonomyNode{Children: []*model.TaxonomyNode{{Topic: "Unclassified"}}}))

	res, err := h.runner(t).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestRun_FirstRunProvisionsAndClassifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, taxonomyWith("invoice")))
	h.seed()

	r := h.runner(t)
	res, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Contains(t, res.Drift, drift.ReasonMissingRoot)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 4, res.Stats.Copied)
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Finance"), 2)
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Finance/Taxes"), 1)
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Unclassified"), 1)

	h.ms.ResetOps()
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Drift)
	assert.Equal(t, 3, res.Stats.Skipped)
	assert.Equal(t, 0, h.ms.CountOps(memstore.OpCopy))
	assert.Equal(t, 0, h.ms.CountOps(memstore.OpCreate))
}

func TestRun_FreshRunnerReusesLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, taxonomyWith("invoice")))
	h.seed()

	_, err := h.runner(t).Run(ctx)
	require.NoError(t, err)
	h.ms.ResetOps()

	_, err = h.runner(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.ms.CountOps(memstore.OpCopy))
}

func TestRun_MindMapExport(t *testing.T) {
	h := newHarness(t)
	testutil.SaveTaxonomyYAML(t, h.db, `
nodeData:
  topic: Mail
  children:
    - topic: Travel
      tags: [Flight, Hotel]
`)
	h.ms.AddMessage(h.inbox, mailstore.Message{Subject: "Hotel booking confirmed"}, "")

	res, err := h.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Copied)
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Travel"), 1)
	assert.Empty(t, h.ms.MessagesIn("Taxonomy/Unclassified"))
}

func TestRun_TagChangeRebuilds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, taxonomyWith("invoice")))
	h.seed()

	r := h.runner(t)
	_, err := r.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, h.db.SaveTaxonomy(ctx, taxonomyWith("invoice", "receipt")))
	h.ms.ResetOps()

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []drift.Reason{drift.ReasonTags}, res.Drift)
	assert.Equal(t, 1, h.ms.CountOps(memstore.OpDelete))
	assert.Equal(t, 4, res.Stats.Copied)
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Finance"), 2)
}

func TestRun_ConcurrentCallsCopyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, taxonomyWith("invoice")))
	h.seed()
	r := h.runner(t)

	var wg gosync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Run(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, h.ms.CountOps(memstore.OpCopy))
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Finance"), 2)
}

func TestRun_AccountErrorFails(t *testing.T) {
	ms := memstore.New()
	db := testutil.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, db.SaveTaxonomy(ctx, taxonomyWith("invoice")))

	r, err := sync.NewRunner(ms, db, mailboxConfig(), nil)
	require.NoError(t, err)
	_, err = r.Run(ctx)
	assert.Error(t, err)
}

func TestNewRunner_RejectsUnknownSource(t *testing.T) {
	cfg := mailboxConfig()
	cfg.Sources = []string{"drafts"}
	_, err := sync.NewRunner(memstore.New(), testutil.NewTestStore(t), cfg, nil)
	assert.Error(t, err)
}

func TestContext_BeforeFirstRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, taxonomyWith("invoice")))

	_, err := h.runner(t).Context(ctx)
	assert.ErrorIs(t, err, sync.ErrNotProvisioned)
}

func TestContext_LeavesDeletedFoldersForDriftCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, taxonomyWith("invoice")))
	h.seed()
	_, err := h.runner(t).Run(ctx)
	require.NoError(t, err)

	finance, ok := h.ms.Folder("Taxonomy/Finance")
	require.True(t, ok)
	require.NoError(t, h.ms.DeleteFolder(ctx, finance))
	h.ms.ResetOps()

	rc, err := h.runner(t).Context(ctx)
	require.NoError(t, err)
	assert.NotContains(t, rc.Folders, "Taxonomy/Finance")
	assert.NotContains(t, rc.Folders, "Taxonomy/Finance/Taxes")
	assert.Contains(t, rc.Folders, "Taxonomy/Travel")
	assert.Equal(t, 0, h.ms.CountOps(memstore.OpCreate))

	res, err := h.runner(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []drift.Reason{drift.ReasonStructure}, res.Drift)
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Finance"), 2)
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Finance/Taxes"), 1)
}

func TestRun_SkipsCollidingFolderNames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, &model.TaxonomyNode{Children: []*model.TaxonomyNode{
		{Topic: "Q1:Q2", Tags: []string{"report"}},
		{Topic: "Q1?Q2", Tags: []string{"report"}},
	}}))
	h.ms.AddMessage(h.inbox, mailstore.Message{Subject: "report"}, "")

	res, err := h.runner(t).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Contains(t, res.SkipReason, "same folder name")
	assert.Equal(t, 0, h.ms.CountOps(memstore.OpCopy))
}

func TestRun_DottedDelimiterIsStable(t *testing.T) {
	h := newHarness(t)
	h.ms.Delim = '.'
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, &model.TaxonomyNode{Children: []*model.TaxonomyNode{
		{Topic: "v1.2", Tags: []string{"release"}},
	}}))
	h.ms.AddMessage(h.inbox, mailstore.Message{Subject: "release notes"}, "")

	r := h.runner(t)
	_, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, h.ms.MessagesIn("Taxonomy/v1_2"), 1)
	h.ms.ResetOps()

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Drift)
	assert.Equal(t, 0, h.ms.CountOps(memstore.OpDelete))
	assert.Equal(t, 0, h.ms.CountOps(memstore.OpCopy))
}

func TestRelocate_FromFreshRunner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.SaveTaxonomy(ctx, taxonomyWith("invoice")))
	h.seed()
	_, err := h.runner(t).Run(ctx)
	require.NoError(t, err)

	unc := h.ms.MessagesIn("Taxonomy/Unclassified")
	require.Len(t, unc, 1)

	r := h.runner(t)
	moved, err := r.Relocate(ctx, unc[0].ID, "Taxonomy/Unclassified", "Taxonomy/Travel")
	require.NoError(t, err)
	assert.Equal(t, unc[0].ID, moved.ID)
	assert.Empty(t, h.ms.MessagesIn("Taxonomy/Unclassified"))
	assert.Len(t, h.ms.MessagesIn("Taxonomy/Travel"), 1)

	rc, err := r.Context(ctx)
	require.NoError(t, err)
	ids, err := rc.Ledger.IDs(ctx, "Taxonomy/Travel")
	require.NoError(t, err)
	assert.Equal(t, []string{moved.ID}, ids)

	n, err := r.RelocateAll(ctx, "Taxonomy/Unclassified", "Taxonomy/Travel")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type fakeRunner struct {
	mu    gosync.Mutex
	calls int
	err   error
}

func (f *fakeRunner) Run(context.Context) (sync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return sync.Result{Candidates: f.calls}, f.err
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPoller_RunsOnStartAndOnTrigger(t *testing.T) {
	fr := &fakeRunner{}
	p := sync.NewPoller(fr, time.Hour, nil)
	p.Start(context.Background())
	defer p.Stop()

	first := <-p.Results()
	assert.NoError(t, first.Error)
	assert.Equal(t, 1, first.Result.Candidates)

	p.Trigger()
	second := <-p.Results()
	assert.Equal(t, 2, second.Result.Candidates)
	assert.Equal(t, sync.StateIdle, p.Status().State)
}

func TestPoller_RestartAfterStop(t *testing.T) {
	fr := &fakeRunner{}
	p := sync.NewPoller(fr, time.Hour, nil)

	p.Start(context.Background())
	<-p.Results()
	p.Stop()
	p.Stop()

	p.Start(context.Background())
	second := <-p.Results()
	p.Stop()

	assert.Equal(t, 2, second.Result.Candidates)
	assert.Equal(t, 2, fr.Calls())
}

func TestPoller_RestartAfterContextEnds(t *testing.T) {
	fr := &fakeRunner{}
	p := sync.NewPoller(fr, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	<-p.Results()
	cancel()

	require.Eventually(t, func() bool {
		p.Start(context.Background())
		return fr.Calls() == 2
	}, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPoller_AuthErrorPausesTicks(t *testing.T) {
	fr := &fakeRunner{err: &mailstore.AuthError{Username: "me", Message: "bad password"}}
	p := sync.NewPoller(fr, 5*time.Millisecond, nil)
	p.Start(context.Background())
	defer p.Stop()

	<-p.Results()
	require.Eventually(t, func() bool { return p.Status().State == sync.StateAuthFailed }, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fr.Calls())

	p.Trigger()
	require.Eventually(t, func() bool { return fr.Calls() == 2 }, time.Second, time.Millisecond)
}

func TestPoller_ErrorState(t *testing.T) {
	fr := &fakeRunner{err: errors.New("connection refused")}
	p := sync.NewPoller(fr, time.Hour, nil)
	p.Start(context.Background())

	res := <-p.Results()
	assert.Error(t, res.Error)
	p.Stop()
	assert.Equal(t, sync.StateError, p.Status().State)
	assert.Equal(t, "error", p.Status().State.String())
}

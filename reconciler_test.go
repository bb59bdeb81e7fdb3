package reconciler

import (
	"path/filepath"
	"testing"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	"github.com/Maksumys/drizzle-reconciler/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := repository.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func actionKinds(actions []models.ActionModel) []models.ActionKind {
	kinds := make([]models.ActionKind, 0, len(actions))
	for _, action := range actions {
		kinds = append(kinds, action.Kind)
	}
	return kinds
}

func TestWindow_Threshold(t *testing.T) {
	tests := []struct {
		name       string
		window     Window
		diskMax    int
		journalMax int
		want       int
	}{
		{name: "disk bound", window: DefaultWindow, diskMax: 20, journalMax: 10, want: 15},
		{name: "journal bound", window: DefaultWindow, diskMax: 10, journalMax: 10, want: 8},
		{name: "never negative", window: DefaultWindow, diskMax: 1, journalMax: -1, want: 0},
		{name: "disabled", window: Window{Disk: 5, Journal: 2, Disabled: true}, diskMax: 20, journalMax: 20, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Threshold(tt.diskMax, tt.journalMax))
		})
	}
}

func TestReconcile_PrunesThenDeduplicates(t *testing.T) {
	dir := t.TempDir()
	metaDir := filepath.Join(dir, "meta")
	journalPath := filepath.Join(metaDir, "_journal.json")

	touch(t, dir, "0000_init.sql", "0001_a.sql", "0001_b.sql")
	writeJournal(t, journalPath, journalOf("0000_init", "0001_a", "0002_gone"))

	r, _ := newTestReconciler(t)
	result, err := r.Reconcile(NewFileStore(journalPath), dir, metaDir)
	require.NoError(t, err)

	assert.Equal(t, []models.Tag{models.NewTag(2, "gone")}, result.Prune.Removed)
	require.Len(t, result.Dedupe.Renumbered, 1)
	// запись 0002_gone уже удалена, номер 2 свободен
	assert.Equal(t, "0002_b.sql", result.Dedupe.Renumbered[0].NewFile)

	journal := readJournal(t, journalPath)
	assert.Equal(t, []string{"0000_init", "0001_a", "0002_b"}, tagsOf(journal))
	assertConsistent(t, journal)
}

func TestReconcile_MalformedJournal(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "_journal.json")
	touch(t, dir, "_journal.json")

	r, _ := newTestReconciler(t)
	result, err := r.Reconcile(NewFileStore(journalPath), dir, dir)
	require.ErrorIs(t, err, ErrMalformedJournal)
	assert.True(t, result.Prune.Skipped)
}

func TestLedger_RecordsActions(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "_journal.json")
	touch(t, dir, "0000_init.sql")
	writeJournal(t, journalPath, journalOf("0000_init", "0001_gone", "0002_gone_too"))

	ledger := newTestLedger(t)
	r, _ := newTestReconciler(t, WithLedger(ledger))

	_, err := r.LastRunID()
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = r.Prune(NewFileStore(journalPath), dir)
	require.NoError(t, err)

	runID, err := r.LastRunID()
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	actions, err := repository.GetRunActions(ledger, runID)
	require.NoError(t, err)
	assert.Equal(t, []models.ActionKind{models.ActionPruned, models.ActionPruned}, actionKinds(actions))
	assert.Equal(t, "0001_gone", actions[0].OldTag.String())
	assert.True(t, actions[0].NewTag.IsZero())
	assert.Equal(t, testNow.UnixMilli(), actions[0].RecordedOn.Millis())
}

func TestLedger_MergeRecordsKeptAndRenumbered(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.json")
	featurePath := filepath.Join(dir, "feature.json")
	writeJournal(t, basePath, journalOf("0000_init", "0001_users"))
	feature := journalOf("0000_init", "0001_extra")
	feature.Entries = append(feature.Entries, entryWithIndex(5, "0005_later"))
	writeJournal(t, featurePath, feature)

	ledger := newTestLedger(t)
	r, _ := newTestReconciler(t, WithLedger(ledger))

	_, err := r.MergeJournals(NewFileStore(basePath), NewFileStore(featurePath), NewFileStore(filepath.Join(dir, "out.json")), "")
	require.NoError(t, err)

	actions, err := repository.GetActionsSorted(ledger, repository.OrderASC)
	require.NoError(t, err)
	assert.Equal(t, []models.ActionKind{models.ActionMerged, models.ActionRenumbered}, actionKinds(actions))
	assert.Equal(t, "0001_extra", actions[1].OldTag.String())
	assert.Equal(t, "0002_extra", actions[1].NewTag.String())
}

func TestLedger_DryRunRecordsNothing(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "_journal.json")
	touch(t, dir, "0000_init.sql")
	writeJournal(t, journalPath, journalOf("0000_init", "0001_gone"))

	ledger := newTestLedger(t)
	r, _ := newTestReconciler(t, WithLedger(ledger), WithDryRun(true))

	_, err := r.Prune(NewFileStore(journalPath), dir)
	require.NoError(t, err)

	actions, err := repository.GetActionsSorted(ledger, repository.OrderASC)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestLedger_UnresolvedCollisionsRecorded(t *testing.T) {
	tags := []string{"0000_init", "0001_a", "0002_c", "0003_d", "0004_e", "0005_f", "0006_g"}
	files := []string{"0001_b.sql"}
	for _, tag := range tags {
		files = append(files, tag+".sql")
	}
	fixture := newDedupeFixture(t, journalOf(tags...), files...)

	ledger := newTestLedger(t)
	r, _ := newTestReconciler(t, WithLedger(ledger))
	result := fixture.run(t, r)
	require.Len(t, result.Unresolved, 1)

	runID, err := r.LastRunID()
	require.NoError(t, err)
	actions, err := repository.GetRunActions(ledger, runID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionUnresolved, actions[0].Kind)
	assert.Equal(t, 1, actions[0].OldTag.Index)
}

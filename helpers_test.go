package reconciler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *logtest.Hook) {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	defaults := []Option{
		WithLogger(logger),
		WithClock(func() time.Time { return testNow }),
	}

	return NewReconciler(append(defaults, opts...)...), hook
}

// journalOf строит журнал, в котором индекс каждой записи совпадает с префиксом тега.
func journalOf(tags ...string) *models.Journal {
	journal := &models.Journal{Version: "7", Dialect: "postgresql", Entries: []models.Entry{}}
	for i, tagString := range tags {
		tag := models.MustParseTag(tagString)
		journal.Entries = append(journal.Entries, models.Entry{
			Index:       tag.Index,
			Version:     "7",
			When:        models.TimestampFromMillis(1700000000000 + int64(i)),
			Tag:         tag,
			Breakpoints: true,
		})
	}
	return journal
}

func entryWithIndex(index int, tagString string) models.Entry {
	tag, _ := models.ParseTag(tagString)
	return models.Entry{
		Index:       index,
		Version:     "7",
		When:        models.TimestampFromMillis(1700000000000),
		Tag:         tag,
		Breakpoints: true,
	}
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- "+name+"\n"), 0o644))
	}
}

func writeJournal(t *testing.T, path string, journal *models.Journal) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, NewFileStore(path).Save(journal))
}

func readJournal(t *testing.T, path string) *models.Journal {
	t.Helper()
	journal, _, err := NewFileStore(path).Load()
	require.NoError(t, err)
	return journal
}

func tagsOf(journal *models.Journal) []string {
	tags := make([]string, 0, len(journal.Entries))
	for _, entry := range journal.Entries {
		tags = append(tags, entry.Tag.String())
	}
	return tags
}

func indicesOf(journal *models.Journal) []int {
	indices := make([]int, 0, len(journal.Entries))
	for _, entry := range journal.Entries {
		indices = append(indices, entry.Index)
	}
	return indices
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names
}

// assertConsistent проверяет уникальность индексов и тегов и сортировку по индексу.
func assertConsistent(t *testing.T, journal *models.Journal) {
	t.Helper()

	indices := make(map[int]bool)
	tags := make(map[string]bool)
	for i, entry := range journal.Entries {
		assert.False(t, indices[entry.Index], "duplicate index %d", entry.Index)
		assert.False(t, tags[entry.Tag.String()], "duplicate tag %s", entry.Tag)
		indices[entry.Index] = true
		tags[entry.Tag.String()] = true

		if i > 0 {
			assert.Less(t, journal.Entries[i-1].Index, entry.Index, "entries not sorted by index")
		}
	}
}

func logMessages(hook *logtest.Hook) []string {
	messages := make([]string, 0, len(hook.AllEntries()))
	for _, entry := range hook.AllEntries() {
		messages = append(messages, entry.Message)
	}
	return messages
}

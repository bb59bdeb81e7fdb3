package reconciler

import (
	"errors"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
)

type PruneResult struct {
	// Skipped - журнал отсутствует или некорректен, проход ничего не делал.
	Skipped bool
	Removed []models.Tag
	Kept    int
	Saved   bool
}

// Prune удаляет из журнала записи, для которых в каталоге нет файла <tag>.sql. Файлы миграций
// не изменяются. Журнал сохраняется, только если была удалена хотя бы одна запись.
//
// Отсутствующий или некорректный журнал не считается ошибкой: удалять нечего.
func (r *Reconciler) Prune(store JournalStore, dir string) (*PruneResult, error) {
	rn := r.newRun("prune")

	journal, warnings, err := store.Load()
	if err != nil {
		if errors.Is(err, ErrMissingJournal) || errors.Is(err, ErrMalformedJournal) {
			rn.logger.WithError(err).Info("journal not usable, nothing to prune")
			return &PruneResult{Skipped: true}, nil
		}
		return nil, err
	}
	rn.logWarnings(store.String(), warnings)

	result := &PruneResult{}
	kept := make([]models.Entry, 0, len(journal.Entries))

	for _, entry := range journal.Entries {
		found, err := exists(migrationPath(dir, entry.Tag))
		if err != nil {
			return nil, err
		}

		if found {
			kept = append(kept, entry)
			continue
		}

		rn.logger.WithField("tag", entry.Tag.String()).Infof("removing orphaned journal entry: %s", entry.Tag)
		result.Removed = append(result.Removed, entry.Tag)
		rn.record(models.ActionPruned, entry.Tag, models.Tag{}, "no migration file on disk")
	}
	result.Kept = len(kept)

	if len(result.Removed) == 0 {
		rn.logger.Info("no orphaned journal entries")
		return result, nil
	}

	if r.dryRun {
		rn.logger.Infof("dry run: would remove %d orphaned journal entries", len(result.Removed))
		return result, nil
	}

	journal.Entries = kept
	if err = store.Save(journal); err != nil {
		return result, err
	}
	result.Saved = true

	rn.logger.Infof("removed %d orphaned journal entries", len(result.Removed))
	return result, rn.flush()
}

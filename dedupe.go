package reconciler

import (
	"errors"
	"fmt"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	"github.com/sirupsen/logrus"
)

type FileRenumbering struct {
	OldFile       string
	NewFile       string
	OldTag        models.Tag
	NewTag        models.Tag
	SnapshotMoved bool
}

type DedupeResult struct {
	// Skipped - журнал отсутствует, проход ничего не делал.
	Skipped      bool
	Renumbered   []FileRenumbering
	Unresolved   []Collision
	AddedEntries int
	Saved        bool
}

// Deduplicate устраняет совпадения номеров файлов миграций на диске. Файлы, которых нет в журнале,
// получают номера после максимального, для каждого добавляется запись в журнал. Рассматриваются
// только недавние номера (см. Window); совпадения ниже окна возвращаются в Unresolved.
//
// Отсутствующий журнал - не ошибка, проход пропускается. Некорректный журнал - ошибка.
// При ошибке файловой системы уже переименованные файлы не откатываются, но их записи сохраняются
// в журнал до возврата ошибки: повторный запуск доводит каталог до согласованного состояния.
func (r *Reconciler) Deduplicate(store JournalStore, dir, metaDir string) (*DedupeResult, error) {
	rn := r.newRun("dedupe")

	journal, warnings, err := store.Load()
	if err != nil {
		if errors.Is(err, ErrMissingJournal) {
			rn.logger.WithError(err).Info("journal not found, nothing to deduplicate")
			return &DedupeResult{Skipped: true}, nil
		}
		rn.logger.WithError(err).Error("error loading journal")
		return nil, err
	}
	rn.logWarnings(store.String(), warnings)

	files, skipped, err := ScanMigrationFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, name := range skipped {
		rn.logger.WithField("file", name).Debug("skipping file without NNNN_ prefix")
	}

	result := &DedupeResult{}
	if len(files) == 0 {
		rn.logger.Info("no SQL migration files found")
		return result, nil
	}

	planner := dedupePlanner{
		logger:  rn.logger,
		window:  r.window,
		journal: journal,
		files:   files,
	}
	planned := planner.MakePlan()

	result.Unresolved = planned.unresolved
	for _, collision := range planned.unresolved {
		rn.record(models.ActionUnresolved, models.NewTag(collision.Index, ""), models.Tag{},
			fmt.Sprintf("files %v below window threshold %d", collision.Files, planned.threshold))
	}

	newEntries := make([]models.Entry, 0, planned.plan.Len())
	for !planned.plan.IsEmpty() {
		item := planned.plan.PopFirst()
		newFile := item.NewTag.String() + migrationExt

		rn.logger.WithFields(logrus.Fields{
			"tag":     item.File.Tag.String(),
			"new_tag": item.NewTag.String(),
			"reason":  item.Reason,
		}).Infof("renumbering %s -> %s", item.File.FileName, newFile)

		renumbered := FileRenumbering{
			OldFile: item.File.FileName,
			NewFile: newFile,
			OldTag:  item.File.Tag,
			NewTag:  item.NewTag,
		}

		if !r.dryRun {
			renumbered.SnapshotMoved, err = moveMigration(dir, metaDir, item.File.Tag, item.NewTag)
			if err != nil {
				return result, r.saveInterrupted(rn, store, journal, newEntries, result, err)
			}
			if renumbered.SnapshotMoved {
				rn.logger.WithField("tag", item.NewTag.String()).Infof(
					"renamed snapshot %s%s -> %s%s", item.File.Tag, snapshotExt, item.NewTag, snapshotExt,
				)
			}
		}

		newEntries = append(newEntries, r.entryFor(item.NewTag))
		result.Renumbered = append(result.Renumbered, renumbered)
		rn.record(models.ActionRenumbered, item.File.Tag, item.NewTag, item.Reason)
	}

	if len(newEntries) == 0 {
		rn.logger.Info("no renumbering needed for recent migrations")
		return result, rn.flush()
	}

	journal.Entries = append(journal.Entries, newEntries...)
	journal.SortByIndex()
	result.AddedEntries = len(newEntries)

	if r.dryRun {
		rn.logger.Infof("dry run: would add %d renumbered migration(s) to journal", len(newEntries))
		return result, nil
	}

	if err = store.Save(journal); err != nil {
		return result, err
	}
	result.Saved = true

	rn.logger.Infof("added %d renumbered migration(s) to journal, all migrations preserved", len(newEntries))
	return result, rn.flush()
}

// saveInterrupted регистрирует в журнале файлы, переименованные до ошибки cause.
func (r *Reconciler) saveInterrupted(
	rn *run, store JournalStore, journal *models.Journal, newEntries []models.Entry, result *DedupeResult, cause error,
) error {
	if len(newEntries) == 0 {
		return cause
	}

	journal.Entries = append(journal.Entries, newEntries...)
	journal.SortByIndex()
	result.AddedEntries = len(newEntries)

	if err := store.Save(journal); err != nil {
		return errors.Join(cause, err)
	}
	result.Saved = true

	rn.logger.WithError(cause).Warnf("renumbering interrupted, registered %d already renamed migration(s)", len(newEntries))
	return errors.Join(cause, rn.flush())
}

// entryFor создает запись журнала для перенумерованного файла. Время берется из часов реконсилера.
func (r *Reconciler) entryFor(newTag models.Tag) models.Entry {
	return models.Entry{
		Index:       newTag.Index,
		Version:     models.DefaultEntryVersion,
		When:        models.Timestamp{Time: r.clock()},
		Tag:         newTag,
		Breakpoints: true,
	}
}

package reconciler

import (
	"fmt"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	"github.com/sirupsen/logrus"
)

// Rename - смена тега миграции, которую нужно повторить на диске.
type Rename struct {
	Old models.Tag
	New models.Tag
}

type MergeResult struct {
	Journal     *models.Journal
	Renames     []Rename
	FeatureOnly int
	// Kept - теги миграций только из feature, оставшиеся без изменений.
	Kept        []models.Tag
}

// Merge объединяет журнал базовой ветки (base) и журнал ветки с изменениями (feature).
// Миграция считается уже влитой, если ее тег есть в base, независимо от индекса. Миграции только из
// feature перенумеровываются, лишь если их индекс занят: новые индексы выдаются подряд после
// максимального индекса base в порядке следования в feature. Остальные миграции сохраняют индекс
// и тег. Входные журналы не изменяются.
func Merge(base, feature *models.Journal) *MergeResult {
	baseTags := base.TagSet()
	baseIndices := base.IndexSet()

	var featureOnly []models.Entry
	for i := range feature.Entries {
		if !baseTags.Contains(feature.Entries[i].Tag.String()) {
			featureOnly = append(featureOnly, feature.Entries[i].Clone())
		}
	}

	if len(featureOnly) == 0 {
		return &MergeResult{Journal: base.Clone()}
	}

	// индексы, которые останутся за неконфликтующими записями feature, выдавать нельзя
	reserved := baseIndices.Clone()
	for i := range featureOnly {
		reserved.Add(featureOnly[i].Index)
	}
	allocator := newIndexAllocator(base.MaxIndex(), reserved)

	claimed := baseIndices.Clone()
	result := &MergeResult{FeatureOnly: len(featureOnly)}

	for i := range featureOnly {
		entry := &featureOnly[i]

		if !claimed.Contains(entry.Index) {
			claimed.Add(entry.Index)
			result.Kept = append(result.Kept, entry.Tag)
			continue
		}

		oldTag := entry.Tag
		entry.Index = allocator.Next()
		entry.Tag = oldTag.WithIndex(entry.Index)
		claimed.Add(entry.Index)

		result.Renames = append(result.Renames, Rename{Old: oldTag, New: entry.Tag})
	}

	merged := base.Clone()
	merged.Version = base.FormatVersionOrDefault()
	merged.Dialect = base.DialectOrDefault()
	merged.Entries = append(merged.Entries, featureOnly...)
	merged.SortByIndex()

	result.Journal = merged
	return result
}

// MergeJournals загружает оба журнала, объединяет их, сохраняет результат в out и пишет карту
// переименований в renameMapPath (пустой файл, если перенумерация не понадобилась).
// В отличие от остальных проходов, отсутствие или некорректность любого из журналов - ошибка.
func (r *Reconciler) MergeJournals(base, feature JournalSource, out JournalStore, renameMapPath string) (*MergeResult, error) {
	rn := r.newRun("merge")

	baseJournal, warnings, err := base.Load()
	if err != nil {
		rn.logger.WithError(err).Error("error loading base journal")
		return nil, fmt.Errorf("load base journal: %w", err)
	}
	rn.logWarnings(base.String(), warnings)

	featureJournal, warnings, err := feature.Load()
	if err != nil {
		rn.logger.WithError(err).Error("error loading feature journal")
		return nil, fmt.Errorf("load feature journal: %w", err)
	}
	rn.logWarnings(feature.String(), warnings)

	result := Merge(baseJournal, featureJournal)
	r.reportMerge(rn, result)

	if r.dryRun {
		return result, nil
	}

	// карта переименований пишется до журнала
	if renameMapPath != "" {
		if err = WriteRenameMap(renameMapPath, result.Renames); err != nil {
			return result, err
		}
	}
	if err = out.Save(result.Journal); err != nil {
		return result, err
	}

	return result, rn.flush()
}

func (r *Reconciler) reportMerge(rn *run, result *MergeResult) {
	if result.FeatureOnly == 0 {
		rn.logger.Info("no feature-specific migrations found, using base journal")
		return
	}

	rn.logger.WithFields(logrus.Fields{
		"feature_only": result.FeatureOnly,
		"conflicts":    len(result.Renames),
	}).Infof("found %d feature-specific migration(s)", result.FeatureOnly)

	for _, tag := range result.Kept {
		rn.logger.WithField("tag", tag.String()).Infof("keeping (no conflict): %s", tag)
		rn.record(models.ActionMerged, tag, tag, "no index conflict")
	}

	for _, rename := range result.Renames {
		rn.logger.WithFields(logrus.Fields{
			"tag":     rename.Old.String(),
			"new_tag": rename.New.String(),
		}).Infof("renumbering (index conflict): %s -> %s", rename.Old, rename.New)
		rn.record(models.ActionRenumbered, rename.Old, rename.New, "index conflict with base")
	}

	if len(result.Renames) > 0 {
		rn.logger.Infof("merged journal created with %d renumbered migration(s)", len(result.Renames))
	} else {
		rn.logger.Info("merged journal created (no renumbering needed)")
	}
}

package reconciler

import (
	"container/list"
	"fmt"
	"sort"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

// indexAllocator выдает новые индексы непрерывной серией после last, пропуская зарезервированные.
type indexAllocator struct {
	last     int
	reserved mapset.Set[int]
}

func newIndexAllocator(last int, reserved mapset.Set[int]) *indexAllocator {
	if reserved == nil {
		reserved = mapset.NewThreadUnsafeSet[int]()
	}
	return &indexAllocator{last: last, reserved: reserved}
}

func (a *indexAllocator) Next() int {
	for {
		a.last++
		if !a.reserved.Contains(a.last) {
			a.reserved.Add(a.last)
			return a.last
		}
	}
}

type renumbering struct {
	File   MigrationFile
	NewTag models.Tag
	Reason string
}

type renumberPlan struct {
	renumberings *list.List
}

func newRenumberPlan() renumberPlan {
	return renumberPlan{
		renumberings: list.New(),
	}
}

func (p renumberPlan) IsEmpty() bool {
	return p.renumberings.Len() == 0
}

func (p renumberPlan) Len() int {
	return p.renumberings.Len()
}

func (p renumberPlan) PopFirst() renumbering {
	first := p.renumberings.Front()
	p.renumberings.Remove(first)
	return first.Value.(renumbering)
}

// Collision - несколько файлов на диске с одним номером.
type Collision struct {
	Index int
	Files []string
}

type dedupePlanner struct {
	logger  logrus.FieldLogger
	window  Window
	journal *models.Journal
	files   []MigrationFile
}

type dedupePlanResult struct {
	plan            renumberPlan
	unresolved      []Collision
	threshold       int
	diskMaxIndex    int
	journalMaxIndex int
}

func (p *dedupePlanner) MakePlan() dedupePlanResult {
	result := dedupePlanResult{
		plan:            newRenumberPlan(),
		diskMaxIndex:    -1,
		journalMaxIndex: p.journal.MaxIndex(),
	}

	byIndex := make(map[int][]MigrationFile)
	for _, file := range p.files {
		byIndex[file.Tag.Index] = append(byIndex[file.Tag.Index], file)
		if file.Tag.Index > result.diskMaxIndex {
			result.diskMaxIndex = file.Tag.Index
		}
	}

	result.threshold = p.window.Threshold(result.diskMaxIndex, result.journalMaxIndex)

	p.logger.WithFields(logrus.Fields{
		"journal_max": result.journalMaxIndex,
		"disk_max":    result.diskMaxIndex,
		"threshold":   result.threshold,
	}).Info("scanning migrations for duplicate numbers")

	indices := make([]int, 0, len(byIndex))
	for index := range byIndex {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	// новые индексы не должны совпасть ни с файлом, ни с записью журнала без файла
	allocator := newIndexAllocator(max(result.diskMaxIndex, result.journalMaxIndex), nil)
	journalTags := p.journal.TagSet()

	for _, index := range indices {
		files := byIndex[index]
		if len(files) < 2 {
			continue
		}

		if index < result.threshold {
			collision := Collision{Index: index, Files: fileNames(files)}
			result.unresolved = append(result.unresolved, collision)
			p.logger.WithFields(logrus.Fields{
				"index": index,
				"files": collision.Files,
			}).Warn("duplicate migration number below the recent window, leaving unresolved")
			continue
		}

		var registered, unregistered []MigrationFile
		for _, file := range files {
			if journalTags.Contains(file.Tag.String()) {
				registered = append(registered, file)
			} else {
				unregistered = append(unregistered, file)
			}
		}

		logger := p.logger.WithFields(logrus.Fields{
			"index":        index,
			"files":        len(files),
			"registered":   len(registered),
			"unregistered": len(unregistered),
		})

		var toRenumber []MigrationFile
		var reason string
		switch {
		case len(registered) > 0 && len(unregistered) > 0:
			logger.Info("duplicate migration number, renumbering files missing from journal")
			toRenumber = unregistered
			reason = fmt.Sprintf("index %04d taken by a registered migration", index)
		case len(registered) == 0:
			// выбор первого по алфавиту произволен, важна только воспроизводимость
			sorted := append([]MigrationFile(nil), unregistered...)
			sort.SliceStable(sorted, func(i, j int) bool {
				return sorted[i].FileName < sorted[j].FileName
			})
			logger.WithField("kept", sorted[0].FileName).Info("duplicate migration number, none in journal, keeping first")
			toRenumber = sorted[1:]
			reason = fmt.Sprintf("index %04d kept by %s", index, sorted[0].FileName)
		default:
			logger.Info("all files with this number are in journal, no action needed")
			continue
		}

		for _, file := range toRenumber {
			result.plan.renumberings.PushBack(renumbering{
				File:   file,
				NewTag: file.Tag.WithIndex(allocator.Next()),
				Reason: reason,
			})
		}
	}

	return result
}

func fileNames(files []MigrationFile) []string {
	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, file.FileName)
	}
	return names
}

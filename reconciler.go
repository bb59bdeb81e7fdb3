package reconciler

import (
	"errors"
	"fmt"
	"time"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	"github.com/Maksumys/drizzle-reconciler/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrMissingJournal     = errors.New("journal is missing or unreadable")
	ErrMalformedJournal   = models.ErrMalformedJournal
	ErrRenameTargetExists = errors.New("rename target already exists")
	ErrReadOnlySource     = errors.New("journal source is read-only")
)

// Window ограничивает индексы, которые дедупликатор может перенумеровать: только индексы не ниже
// max(maxDisk - Disk, maxJournal - Journal, 0). Disabled снимает ограничение.
type Window struct {
	Disk     int
	Journal  int
	Disabled bool
}

var DefaultWindow = Window{Disk: 5, Journal: 2}

func (w Window) Threshold(diskMaxIndex, journalMaxIndex int) int {
	if w.Disabled {
		return 0
	}
	return max(diskMaxIndex-w.Disk, journalMaxIndex-w.Journal, 0)
}

// NewReconciler создает экземпляр, выполняющий согласование журнала миграций (выступает в качестве фасада).
// По умолчанию журнал действий не ведется, логирование идет в стандартный логгер logrus.
func NewReconciler(opts ...Option) *Reconciler {
	reconciler := Reconciler{
		logger: logrus.StandardLogger(),
		clock:  time.Now,
		window: DefaultWindow,
	}

	for _, opt := range opts {
		opt(&reconciler)
	}

	return &reconciler
}

type Reconciler struct {
	logger logrus.FieldLogger
	ledger *gorm.DB
	clock  func() time.Time
	window Window
	dryRun bool
}

type ReconcileResult struct {
	Prune  *PruneResult
	Dedupe *DedupeResult
}

// Reconcile выполняет полный проход над одним каталогом: сначала удаляет записи без файлов,
// затем устраняет совпадения номеров файлов на диске.
func (r *Reconciler) Reconcile(store JournalStore, dir, metaDir string) (*ReconcileResult, error) {
	pruneResult, err := r.Prune(store, dir)
	if err != nil {
		return nil, err
	}

	dedupeResult, err := r.Deduplicate(store, dir, metaDir)
	if err != nil {
		return &ReconcileResult{Prune: pruneResult}, err
	}

	return &ReconcileResult{Prune: pruneResult, Dedupe: dedupeResult}, nil
}

// run - один проход согласования. Действия накапливаются и попадают в журнал действий только
// после того, как журнал миграций сохранен.
type run struct {
	id         string
	operation  string
	reconciler *Reconciler
	logger     logrus.FieldLogger
	actions    []repository.SaveActionRequest
}

func (r *Reconciler) newRun(operation string) *run {
	id := uuid.NewString()
	logger := r.logger.WithFields(logrus.Fields{
		"run":       id,
		"operation": operation,
		"dry_run":   r.dryRun,
	})

	return &run{
		id:         id,
		operation:  operation,
		reconciler: r,
		logger:     logger,
	}
}

func (rn *run) record(kind models.ActionKind, oldTag, newTag models.Tag, detail string) {
	rn.actions = append(rn.actions, repository.SaveActionRequest{
		RunID:  rn.id,
		Kind:   kind,
		OldTag: oldTag,
		NewTag: newTag,
		Detail: detail,
		On:     models.Timestamp{Time: rn.reconciler.clock()},
	})
}

func (rn *run) logWarnings(source string, warnings []models.ParseWarning) {
	for _, warning := range warnings {
		rn.logger.WithField("source", source).Warn(warning.String())
	}
}

func (rn *run) flush() error {
	if rn.reconciler.ledger == nil || rn.reconciler.dryRun || len(rn.actions) == 0 {
		return nil
	}

	err := rn.reconciler.ledger.Transaction(func(tx *gorm.DB) error {
		for i := range rn.actions {
			if _, err := repository.SaveAction(tx, rn.actions[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s actions: %w", rn.operation, err)
	}

	return nil
}

// LastRunID возвращает идентификатор последнего прохода в журнале действий.
func (r *Reconciler) LastRunID() (string, error) {
	if r.ledger == nil {
		return "", repository.ErrNotFound
	}

	action, err := repository.GetLastAction(r.ledger)
	if err != nil {
		return "", err
	}

	return action.RunID, nil
}

package reconciler

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Option func(*Reconciler)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithLedger включает запись каждого действия в таблицу reconcile_actions.
func WithLedger(db *gorm.DB) Option {
	return func(r *Reconciler) {
		r.ledger = db
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		r.clock = clock
	}
}

func WithWindow(window Window) Option {
	return func(r *Reconciler) {
		r.window = window
	}
}

// WithDryRun заставляет проходы только сообщать о действиях, не изменяя файлы и журнал.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dryRun
	}
}

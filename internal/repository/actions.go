package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Maksumys/drizzle-reconciler/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open подключается к журналу действий. DSN вида postgres:// или postgresql:// открывается
// драйвером postgres, все остальное считается путем к файлу sqlite (":memory:" допустим).
func Open(dsn string) (*gorm.DB, error) {
	config := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if !HasActionsTable(db) {
		if err = CreateActionsTable(db); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func HasActionsTable(db *gorm.DB) bool {
	return db.Migrator().HasTable(models.ActionModel{}.TableName())
}

func CreateActionsTable(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ActionModel{}); err != nil {
		return fmt.Errorf("auto-migrate %s: %w", models.ActionModel{}.TableName(), err)
	}
	return nil
}

type SaveActionRequest struct {
	RunID  string
	Kind   models.ActionKind
	OldTag models.Tag
	NewTag models.Tag
	Detail string
	On     models.Timestamp
}

func SaveAction(db *gorm.DB, request SaveActionRequest) (models.ActionModel, error) {
	action := models.ActionModel{
		RunID:      request.RunID,
		Kind:       request.Kind,
		OldTag:     request.OldTag,
		NewTag:     request.NewTag,
		Detail:     request.Detail,
		RecordedOn: request.On,
	}

	if err := db.Create(&action).Error; err != nil {
		return models.ActionModel{}, fmt.Errorf("save action: %w", err)
	}

	return action, nil
}

func GetActionsSorted(db *gorm.DB, order Order) ([]models.ActionModel, error) {
	var actions []models.ActionModel

	res := db.Order("id " + string(order)).Find(&actions)
	if res.Error != nil {
		return nil, res.Error
	}

	return actions, nil
}

func GetRunActions(db *gorm.DB, runID string) ([]models.ActionModel, error) {
	var actions []models.ActionModel

	res := db.Where("run_id = ?", runID).Order("id asc").Find(&actions)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	return actions, nil
}

func GetLastAction(db *gorm.DB) (models.ActionModel, error) {
	var action models.ActionModel
	res := db.Order("id desc").First(&action)

	if res.Error != nil {
		switch {
		case errors.Is(res.Error, gorm.ErrRecordNotFound):
			return models.ActionModel{}, ErrNotFound
		default:
			return models.ActionModel{}, res.Error
		}
	}

	return action, nil
}

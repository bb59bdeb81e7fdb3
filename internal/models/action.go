package models

type ActionKind string

const (
	ActionPruned     ActionKind = "pruned"
	ActionRenumbered ActionKind = "renumbered"
	ActionMerged     ActionKind = "merged"
	ActionRenamed    ActionKind = "renamed"
	ActionUnresolved ActionKind = "unresolved"
)

type ActionModel struct {
	Id         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"index"`
	Kind       ActionKind
	OldTag     Tag
	NewTag     Tag
	Detail     string
	RecordedOn Timestamp
}

func (v ActionModel) TableName() string {
	return "reconcile_actions"
}

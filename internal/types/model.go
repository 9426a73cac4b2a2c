package types

import "time"

// PrimaryModelName is the key of the single anomaly model slot.
const PrimaryModelName = "primary"

// AnomalyModel is the persisted, serialized anomaly ensemble.
type AnomalyModel struct {
	Name        string    `gorm:"column:model_name;primaryKey;size:50"`
	Data        []byte    `gorm:"column:model_data"`
	TrainedAt   time.Time `gorm:"column:created_at"`
	SampleCount int       `gorm:"column:sample_count"`
}

// TableName maps AnomalyModel onto the ai_models relation
func (AnomalyModel) TableName() string {
	return "ai_models"
}

package store

import (
	"time"

	"gorm.io/datatypes"
)

// RecordModel is one record of any collection. The payload keeps the full
// JSON object including its id.
type RecordModel struct {
	Resource  string         `gorm:"primaryKey;size:128"`
	ID        int64          `gorm:"primaryKey;autoIncrement:false"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

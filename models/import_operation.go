package models

import (
	"time"
)

// ImportOperation is the persisted history of one donor import. The live
// progress lives in the progress store; this row is written at submit and at
// the terminal state, and serves reads after the store entry has expired.
type ImportOperation struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"` // UUID operation id
	Status      string     `gorm:"not null;default:'queued';index" json:"status"`
	Progress    int        `gorm:"not null;default:0" json:"progress"` // 0-100
	Message     string     `gorm:"type:text" json:"message"`
	Filename    string     `json:"filename"`
	SubmittedBy string     `json:"submitted_by"`
	Result      string     `gorm:"type:text" json:"result"` // JSON blob
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (ImportOperation) TableName() string {
	return "import_operations"
}

package shift

import (
	"time"

	"gorm.io/datatypes"
)

type ShiftStatus string

var (
	StatusPlanned   ShiftStatus = "PLANNED"
	StatusActive    ShiftStatus = "ACTIVE"
	StatusCompleted ShiftStatus = "COMPLETED"
	StatusCancelled ShiftStatus = "CANCELLED"
)

func (s ShiftStatus) String() string {
	switch s {
	case StatusPlanned, StatusActive, StatusCompleted, StatusCancelled:
		return string(s)
	default:
		return ""
	}
}

type TaskType string

var (
	TypeTask  TaskType = "TASK"
	TypeBreak TaskType = "BREAK"
)

func (t TaskType) String() string {
	switch t {
	case TypeTask, TypeBreak:
		return string(t)
	default:
		return ""
	}
}

// Shift is one production run: an ordered task list executed in real time.
// At most one shift is ACTIVE at any moment, enforced by the lifecycle
// manager at every activation.
type Shift struct {
	ID               int64       `gorm:"column:id;primaryKey" json:"id"`
	Status           ShiftStatus `gorm:"column:status;type:varchar(20);default:'PLANNED'" json:"status"`
	Master           string      `gorm:"column:master;type:varchar(120)" json:"master"`
	StartedBy        string      `gorm:"column:started_by;type:varchar(120)" json:"started_by"`
	EndedBy          string      `gorm:"column:ended_by;type:varchar(120)" json:"ended_by"`
	PlannedStartTime *time.Time  `gorm:"column:planned_start_time" json:"planned_start_time"`
	StartTime        *time.Time  `gorm:"column:start_time" json:"start_time"`
	EndTime          *time.Time  `gorm:"column:end_time" json:"end_time"`
	ActiveTaskIndex  int         `gorm:"column:active_task_index;default:0" json:"active_task_index"`
	CreatedAt        time.Time   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Tasks []ShiftTask `gorm:"foreignKey:ShiftID;constraint:OnDelete:CASCADE" json:"tasks,omitempty"`
}

// ShiftTask is one ordered step within a shift, either a production task or
// a timed break. Order values partition [0, N) with no gaps.
type ShiftTask struct {
	ID      int64    `gorm:"column:id;primaryKey" json:"id"`
	ShiftID int64    `gorm:"column:shift_id;index;not null" json:"shift_id"`
	Type    TaskType `gorm:"column:type;type:varchar(20);default:'TASK'" json:"type"`
	Order   int      `gorm:"column:task_order;not null" json:"order"`

	// TASK fields
	ProductID        *int64   `gorm:"column:product_id" json:"product_id,omitempty"`
	PackingID        *int64   `gorm:"column:packing_id" json:"packing_id,omitempty"`
	Target           *int     `gorm:"column:target" json:"target,omitempty"`
	ReadyValue       *int     `gorm:"column:ready_value" json:"ready_value,omitempty"`
	NormInMinute     *float64 `gorm:"column:norm_in_minute" json:"norm_in_minute,omitempty"`
	TimeNeeded       *int     `gorm:"column:time_needed" json:"time_needed,omitempty"`
	PercentFromShift *float64 `gorm:"column:percent_from_shift" json:"percent_from_shift,omitempty"`
	TimeSpent        *int64   `gorm:"column:time_spent" json:"time_spent,omitempty"`

	// BREAK fields
	RemainingTime *int `gorm:"column:remaining_time" json:"remaining_time,omitempty"`

	StartedAt  *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

// PackingLog is an append-only record, one row per physical unit packed.
// The core never mutates or deletes these.
type PackingLog struct {
	ID        int64          `gorm:"column:id;primaryKey" json:"id"`
	ShiftID   int64          `gorm:"column:shift_id;index" json:"shift_id"`
	TaskID    int64          `gorm:"column:task_id;index" json:"task_id"`
	SID       int            `gorm:"column:sid" json:"sid"`
	Metadata  datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

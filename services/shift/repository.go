package shift

import (
	"context"
	"errors"
	"time"

	"shiftline-backend/pkg/errutil"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Repository is the durable-store side of the shift domain. It is the source
// of truth for every shift that is not currently active.
type Repository struct {
	db *gorm.DB
}

type RepositoryParams struct {
	fx.In
	DB *gorm.DB
}

func NewRepository(p RepositoryParams) *Repository {
	return &Repository{db: p.DB}
}

func (r *Repository) WithTrx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// CreateShift persists a shift together with its ordered tasks in one
// transaction.
func (r *Repository) CreateShift(ctx context.Context, shift *Shift) error {
	return r.db.WithContext(ctx).Create(shift).Error
}

func (r *Repository) GetShift(ctx context.Context, id int64) (*Shift, error) {
	var shift Shift
	if err := r.db.WithContext(ctx).First(&shift, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("shift not found", err)
		}
		return nil, err
	}
	return &shift, nil
}

func (r *Repository) UpdateShift(ctx context.Context, id int64, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&Shift{}).Where("id = ?", id).Updates(fields).Error
}

func (r *Repository) UpdateTask(ctx context.Context, id int64, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&ShiftTask{}).Where("id = ?", id).Updates(fields).Error
}

// ListDueShifts returns planned shifts whose planned start time has passed,
// oldest due time first. The ordering is load-bearing: older shifts must
// activate before newer ones.
func (r *Repository) ListDueShifts(ctx context.Context, now time.Time) ([]*Shift, error) {
	var shifts []*Shift
	err := r.db.WithContext(ctx).
		Where("status = ? AND planned_start_time IS NOT NULL AND planned_start_time <= ?", StatusPlanned, now).
		Order("planned_start_time asc").
		Find(&shifts).Error
	return shifts, err
}

// ActiveShifts returns every ACTIVE shift, normally at most one.
func (r *Repository) ActiveShifts(ctx context.Context) ([]*Shift, error) {
	var shifts []*Shift
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("start_time asc").
		Find(&shifts).Error
	return shifts, err
}

// ActiveShift returns the most recently started ACTIVE shift, or nil.
func (r *Repository) ActiveShift(ctx context.Context) (*Shift, error) {
	var shift Shift
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("start_time desc").
		First(&shift).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &shift, nil
}

func (r *Repository) RecentShifts(ctx context.Context, limit int) ([]*Shift, error) {
	var shifts []*Shift
	err := r.db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&shifts).Error
	return shifts, err
}

// CompletedShifts preloads tasks for the statistics aggregation.
func (r *Repository) CompletedShifts(ctx context.Context) ([]*Shift, error) {
	var shifts []*Shift
	err := r.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("task_order asc")
		}).
		Where("status = ?", StatusCompleted).
		Order("id desc").
		Find(&shifts).Error
	return shifts, err
}

// TasksByShift returns the shift's tasks in execution order.
func (r *Repository) TasksByShift(ctx context.Context, shiftID int64) ([]*ShiftTask, error) {
	var tasks []*ShiftTask
	err := r.db.WithContext(ctx).
		Where("shift_id = ?", shiftID).
		Order("task_order asc").
		Find(&tasks).Error
	return tasks, err
}

// DeleteShift removes a shift and, through the cascade, its tasks.
func (r *Repository) DeleteShift(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Select("Tasks").Delete(&Shift{ID: id}).Error
}

func (r *Repository) CreatePackingLog(ctx context.Context, log *PackingLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

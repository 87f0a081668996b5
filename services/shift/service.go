package shift

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shiftline-backend/pkg/errutil"
	"shiftline-backend/pkg/rediskey"
	"shiftline-backend/services/catalog"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// Service is the thin ingress layer: it creates shifts, records produced
// units and answers state queries. All live-state mutation goes through the
// fast store; the service never talks to an in-flight runner directly.
type Service struct {
	repo    *Repository
	store   FastStore
	bus     EventBus
	manager *Manager
	catalog *catalog.Service
	node    *snowflake.Node
}

type ServiceParams struct {
	fx.In
	Repo    *Repository
	Store   FastStore
	Bus     EventBus
	Manager *Manager
	Catalog *catalog.Service
	Node    *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:    p.Repo,
		store:   p.Store,
		bus:     p.Bus,
		manager: p.Manager,
		catalog: p.Catalog,
		node:    p.Node,
	}
}

type CreateTaskRequest struct {
	Type          TaskType `json:"type"`
	Order         int      `json:"order"`
	ProductID     *int64   `json:"product_id,omitempty"`
	PackingID     *int64   `json:"packing_id,omitempty"`
	Target        *int     `json:"target,omitempty"`
	RemainingTime *int     `json:"remaining_time,omitempty"`
}

type CreateShiftRequest struct {
	Master           string              `json:"master"`
	StartedBy        string              `json:"started_by"`
	PlannedStartTime *time.Time          `json:"planned_start_time,omitempty"`
	Tasks            []CreateTaskRequest `json:"tasks"`
}

// CreateShift validates and persists a shift with its ordered tasks. A shift
// without a planned start time starts immediately: any active shift is
// finalized first, then the new one activates.
func (s *Service) CreateShift(ctx context.Context, req CreateShiftRequest) (*Shift, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if err := validateTaskOrder(req.Tasks); err != nil {
		return nil, err
	}

	shift := &Shift{
		ID:               s.node.Generate().Int64(),
		Status:           StatusPlanned,
		Master:           req.Master,
		StartedBy:        req.StartedBy,
		PlannedStartTime: req.PlannedStartTime,
	}

	duration := s.catalog.ShiftDurationMinute(ctx)
	for _, tr := range req.Tasks {
		task, err := s.buildTask(ctx, shift.ID, tr, duration)
		if err != nil {
			return nil, err
		}
		shift.Tasks = append(shift.Tasks, *task)
	}

	if err := s.repo.CreateShift(ctx, shift); err != nil {
		zapLog.Error("failed to create shift", zap.Error(err))
		return nil, errutil.Internal("failed to create shift", err)
	}

	if req.PlannedStartTime == nil {
		if err := s.manager.EndActiveShifts(ctx); err != nil {
			return nil, err
		}
		if err := s.manager.Activate(ctx, shift); err != nil {
			return nil, err
		}
	}

	zapLog.Info("shift created",
		zap.Int64("shift_id", shift.ID),
		zap.Int("tasks", len(shift.Tasks)),
		zap.Bool("scheduled", req.PlannedStartTime != nil),
	)
	return shift, nil
}

func (s *Service) buildTask(ctx context.Context, shiftID int64, tr CreateTaskRequest, shiftDuration int) (*ShiftTask, error) {
	task := &ShiftTask{
		ID:      s.node.Generate().Int64(),
		ShiftID: shiftID,
		Type:    tr.Type,
		Order:   tr.Order,
	}

	switch tr.Type {
	case TypeBreak:
		if tr.RemainingTime == nil || *tr.RemainingTime <= 0 {
			return nil, errutil.ValidationFailed(
				fmt.Sprintf("break at order %d requires a positive remaining_time", tr.Order), nil)
		}
		task.RemainingTime = tr.RemainingTime

	case TypeTask:
		if tr.ProductID == nil || tr.PackingID == nil || tr.Target == nil || *tr.Target <= 0 {
			return nil, errutil.ValidationFailed(
				fmt.Sprintf("task at order %d requires product, packing and a positive target", tr.Order), nil)
		}

		packing, err := s.catalog.GetPacking(ctx, *tr.PackingID)
		if err != nil {
			return nil, err
		}

		normInMinute := packing.NormInMinute(shiftDuration)
		if normInMinute == 0 {
			return nil, errutil.ValidationFailed(
				fmt.Sprintf("packing %d has a zero norm", packing.ID), nil)
		}

		timeNeeded := int(float64(*tr.Target) / normInMinute)
		percent := (float64(*tr.Target) / normInMinute / float64(shiftDuration)) * 100
		zero := 0

		task.ProductID = tr.ProductID
		task.PackingID = tr.PackingID
		task.Target = tr.Target
		task.ReadyValue = &zero
		task.NormInMinute = &normInMinute
		task.TimeNeeded = &timeNeeded
		task.PercentFromShift = &percent

	default:
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("unknown task type %q at order %d", tr.Type, tr.Order), nil)
	}

	return task, nil
}

// validateTaskOrder checks that order values form a contiguous 0..N-1
// sequence with no duplicates.
func validateTaskOrder(tasks []CreateTaskRequest) error {
	if len(tasks) == 0 {
		return errutil.ValidationFailed("shift requires at least one task", nil)
	}

	seen := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		if t.Order < 0 || t.Order >= len(tasks) {
			return errutil.ValidationFailed(
				fmt.Sprintf("task order %d outside of [0, %d)", t.Order, len(tasks)), nil)
		}
		if seen[t.Order] {
			return errutil.ValidationFailed(
				fmt.Sprintf("duplicate task order %d", t.Order), nil)
		}
		seen[t.Order] = true
	}
	return nil
}

// LogPacking records one packed unit: it resolves the current task through
// the active-task cursor, increments its ready_value and appends an
// immutable packing-log row.
func (s *Service) LogPacking(ctx context.Context, sid int, metadata json.RawMessage) (*PackingLog, error) {
	active, err := s.repo.ActiveShift(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to resolve active shift", err)
	}
	if active == nil {
		return nil, errutil.NotFound("no active shift", nil)
	}

	taskID, err := s.currentTaskID(ctx, active.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.IncrField(ctx, rediskey.BuildTaskKey(taskID), fieldReadyValue, 1); err != nil {
		return nil, errutil.TransientStore("failed to increment ready_value", err)
	}

	log := &PackingLog{
		ID:      s.node.Generate().Int64(),
		ShiftID: active.ID,
		TaskID:  taskID,
		SID:     sid,
	}
	if len(metadata) > 0 {
		log.Metadata = datatypes.JSON(metadata)
	}
	if err := s.repo.CreatePackingLog(ctx, log); err != nil {
		return nil, errutil.Internal("failed to append packing log", err)
	}
	return log, nil
}

// AdvanceActiveTask increments the active-task cursor by exactly 1, skipping
// the current task. The runner detects the move within one tick.
func (s *Service) AdvanceActiveTask(ctx context.Context) (int64, error) {
	active, err := s.repo.ActiveShift(ctx)
	if err != nil {
		return 0, errutil.Internal("failed to resolve active shift", err)
	}
	if active == nil {
		return 0, errutil.NotFound("no active shift", nil)
	}

	next, err := s.store.IncrField(ctx, rediskey.BuildShiftKey(active.ID), fieldActiveTaskIndex, 1)
	if err != nil {
		return 0, errutil.TransientStore("failed to advance active task", err)
	}

	zap.L().Info("active task advanced",
		zap.Int64("shift_id", active.ID),
		zap.Int64("new_index", next),
	)
	return next, nil
}

func (s *Service) currentTaskID(ctx context.Context, shiftID int64) (int64, error) {
	fields, err := s.store.GetFields(ctx, rediskey.BuildShiftKey(shiftID))
	if err != nil {
		return 0, errutil.TransientStore("failed to read shift state", err)
	}
	idx := parseInt64(fields[fieldActiveTaskIndex])

	ids, err := s.store.RangeList(ctx, rediskey.BuildShiftTasksKey(shiftID), idx, idx)
	if err != nil {
		return 0, errutil.TransientStore("failed to read shift task list", err)
	}
	if len(ids) == 0 {
		return 0, errutil.Conflict("no current task for active shift", nil)
	}
	return parseTaskID(ids[0])
}

// Snapshot is the full live state of one active shift served from the fast
// store, the frame a newly connected observer starts from.
type Snapshot struct {
	Shift map[string]string   `json:"shift"`
	Tasks []map[string]string `json:"tasks"`
}

func (s *Service) ActiveSnapshot(ctx context.Context) (*Snapshot, int64, error) {
	active, err := s.repo.ActiveShift(ctx)
	if err != nil {
		return nil, 0, errutil.Internal("failed to resolve active shift", err)
	}
	if active == nil {
		return nil, 0, errutil.NotFound("no active shift", nil)
	}

	snap, err := s.snapshot(ctx, active.ID)
	if err != nil {
		return nil, 0, err
	}
	return snap, active.ID, nil
}

func (s *Service) snapshot(ctx context.Context, shiftID int64) (*Snapshot, error) {
	shiftState, err := s.store.GetFields(ctx, rediskey.BuildShiftKey(shiftID))
	if err != nil {
		return nil, errutil.TransientStore("failed to read shift state", err)
	}

	rawIDs, err := s.store.RangeList(ctx, rediskey.BuildShiftTasksKey(shiftID), 0, -1)
	if err != nil {
		return nil, errutil.TransientStore("failed to read shift task list", err)
	}

	tasks := make([]map[string]string, len(rawIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range rawIDs {
		taskID, err := parseTaskID(raw)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			fields, err := s.store.GetFields(gctx, rediskey.BuildTaskKey(taskID))
			if err != nil {
				return err
			}
			tasks[i] = fields
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errutil.TransientStore("failed to read task states", err)
	}

	return &Snapshot{Shift: shiftState, Tasks: tasks}, nil
}

// SubscribeActive attaches to the active shift's event channel.
func (s *Service) SubscribeActive(ctx context.Context) (int64, <-chan Event, func(), error) {
	active, err := s.repo.ActiveShift(ctx)
	if err != nil {
		return 0, nil, nil, errutil.Internal("failed to resolve active shift", err)
	}
	if active == nil {
		return 0, nil, nil, errutil.NotFound("no active shift", nil)
	}

	ch, cancel, err := s.bus.Subscribe(ctx, active.ID)
	if err != nil {
		return 0, nil, nil, errutil.Internal("failed to subscribe to shift events", err)
	}
	return active.ID, ch, cancel, nil
}

func (s *Service) RecentShifts(ctx context.Context, limit int) ([]*Shift, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	shifts, err := s.repo.RecentShifts(ctx, limit)
	if err != nil {
		return nil, errutil.Internal("failed to list shifts", err)
	}
	return shifts, nil
}

// CancelShift deletes a shift that has not yet started.
func (s *Service) CancelShift(ctx context.Context, id int64) error {
	shift, err := s.repo.GetShift(ctx, id)
	if err != nil {
		return err
	}
	if shift.Status != StatusPlanned {
		return errutil.Conflict(
			fmt.Sprintf("cannot cancel shift in status %s", shift.Status), nil)
	}
	return s.repo.DeleteShift(ctx, id)
}

type TaskCompletion struct {
	ProductID         *int64  `json:"product_id"`
	Target            int     `json:"target"`
	Completed         int     `json:"completed"`
	CompletionPercent float64 `json:"completion_percent"`
}

type ShiftStatistics struct {
	ShiftID       int64            `json:"shift_id"`
	Master        string           `json:"master"`
	StartTime     *time.Time       `json:"start_time"`
	EndTime       *time.Time       `json:"end_time"`
	AvgCompletion float64          `json:"avg_completion"`
	TasksCount    int              `json:"tasks_count"`
	TasksDetails  []TaskCompletion `json:"tasks_details"`
}

// Statistics aggregates the completion percentage of every completed shift
// over its TASK-type tasks.
func (s *Service) Statistics(ctx context.Context) ([]ShiftStatistics, error) {
	shifts, err := s.repo.CompletedShifts(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to load completed shifts", err)
	}

	stats := make([]ShiftStatistics, 0, len(shifts))
	for _, sh := range shifts {
		entry := ShiftStatistics{
			ShiftID:      sh.ID,
			Master:       sh.Master,
			StartTime:    sh.StartTime,
			EndTime:      sh.EndTime,
			TasksDetails: make([]TaskCompletion, 0, len(sh.Tasks)),
		}

		var sum float64
		var counted int
		for _, t := range sh.Tasks {
			if t.Type != TypeTask {
				continue
			}
			entry.TasksCount++

			detail := TaskCompletion{
				ProductID: t.ProductID,
				Target:    intOrZero(t.Target),
				Completed: intOrZero(t.ReadyValue),
			}
			if detail.Target > 0 && detail.Completed > 0 {
				detail.CompletionPercent = float64(detail.Completed) / float64(detail.Target) * 100
				sum += detail.CompletionPercent
				counted++
			}
			entry.TasksDetails = append(entry.TasksDetails, detail)
		}

		if counted > 0 {
			entry.AvgCompletion = sum / float64(counted)
		}
		stats = append(stats, entry)
	}
	return stats, nil
}

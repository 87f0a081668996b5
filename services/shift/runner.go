package shift

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shiftline-backend/pkg/clock"
	"shiftline-backend/pkg/config"
	"shiftline-backend/pkg/errutil"
	"shiftline-backend/pkg/rediskey"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TaskLeadShift = "shift:lead"

type LeadShiftPayload struct {
	ShiftID int64 `json:"shift_id"`
}

// NewLeadShiftTask builds the background job that drives one active shift.
// The timeout is generous: a shift runs for hours and the job lives as long
// as the shift does.
func NewLeadShiftTask(shiftID int64) *asynq.Task {
	payload, _ := json.Marshal(LeadShiftPayload{ShiftID: shiftID})
	return asynq.NewTask(TaskLeadShift, payload,
		asynq.Queue("shifts"),
		asynq.MaxRetry(2),
		asynq.Timeout(24*time.Hour))
}

// Runner advances one active shift's tasks in real time. It owns no state of
// its own: the fast store is the single source of truth, re-read every tick,
// which keeps the runner crash/restart-safe and lets request handlers move
// the cursor underneath it.
type Runner struct {
	repo      *Repository
	store     FastStore
	bus       EventBus
	finalizer *Finalizer
	clock     clock.Clock
	tick      time.Duration
	retries   int
}

type RunnerParams struct {
	fx.In
	Repo      *Repository
	Store     FastStore
	Bus       EventBus
	Finalizer *Finalizer
	Clock     clock.Clock
	Config    *config.Config
}

func NewRunner(p RunnerParams) *Runner {
	retries := p.Config.Shift.StoreRetries
	if retries <= 0 {
		retries = 3
	}
	tick := p.Config.Shift.TickInterval
	if tick <= 0 {
		tick = time.Second
	}

	return &Runner{
		repo:      p.Repo,
		store:     p.Store,
		bus:       p.Bus,
		finalizer: p.Finalizer,
		clock:     p.Clock,
		tick:      tick,
		retries:   retries,
	}
}

// ProcessTask is the asynq handler behind TaskLeadShift. Configuration and
// finalization failures are terminal: they surface as a permanently failed
// job instead of being retried, because the fast store may still hold state
// an operator needs for manual recovery.
func (r *Runner) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload LeadShiftPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid lead shift payload", zap.Error(err))
		return fmt.Errorf("invalid lead shift payload: %v: %w", err, asynq.SkipRetry)
	}

	zap.L().Info("lead shift started", zap.Int64("shift_id", payload.ShiftID))

	if err := r.Run(ctx, payload.ShiftID); err != nil {
		zap.L().Error("lead shift failed",
			zap.Int64("shift_id", payload.ShiftID),
			zap.Error(err),
		)
		if errutil.HasStatus(err, errutil.StatusConfiguration) || errutil.HasStatus(err, errutil.StatusFinalization) {
			return fmt.Errorf("lead shift %d: %v: %w", payload.ShiftID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("lead shift %d: %w", payload.ShiftID, err)
	}

	zap.L().Info("lead shift completed", zap.Int64("shift_id", payload.ShiftID))
	return nil
}

// Run ticks the shift once per tick interval until every task is finished,
// then finalizes. It returns on the first unrecoverable error.
func (r *Runner) Run(ctx context.Context, shiftID int64) error {
	log := zap.L().With(zap.Int64("shift_id", shiftID))
	shiftKey := rediskey.BuildShiftKey(shiftID)
	tasksKey := rediskey.BuildShiftTasksKey(shiftID)

	var rawIDs []string
	if err := r.withRetry("read task list", func() error {
		var err error
		rawIDs, err = r.store.RangeList(ctx, tasksKey, 0, -1)
		return err
	}); err != nil {
		return err
	}

	if len(rawIDs) == 0 {
		log.Error("no tasks found for shift")
		return errutil.Configuration("shift has no tasks", nil)
	}

	idx, err := r.activeIndex(ctx, shiftKey)
	if err != nil {
		return err
	}

	for idx < len(rawIDs) {
		if err := ctx.Err(); err != nil {
			return err
		}

		taskID, err := parseTaskID(rawIDs[idx])
		if err != nil {
			log.Warn("skipping malformed task id", zap.String("raw", rawIDs[idx]))
			if idx, err = r.advanceIndex(ctx, shiftKey, idx); err != nil {
				return err
			}
			continue
		}

		taskKey := rediskey.BuildTaskKey(taskID)
		data, err := r.taskState(ctx, taskKey)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			log.Warn("task not found in fast store, skipping", zap.Int64("task_id", taskID))
			if idx, err = r.advanceIndex(ctx, shiftKey, idx); err != nil {
				return err
			}
			continue
		}

		taskType := TaskType(data[fieldType])
		log.Info("processing task",
			zap.Int("index", idx),
			zap.Int64("task_id", taskID),
			zap.String("type", taskType.String()),
		)

		// First tick for this task: stamp the start and send the full
		// shift+task snapshot so connected observers can render it.
		if data[fieldStartedAt] == "" {
			startedAt := formatTime(r.clock.Now())
			if err := r.withRetry("stamp started_at", func() error {
				return r.store.SetField(ctx, taskKey, fieldStartedAt, startedAt)
			}); err != nil {
				return err
			}
			data[fieldStartedAt] = startedAt

			r.publish(ctx, shiftID, Event{
				Type:   EventTypeTaskUpdate,
				Event:  EventStart,
				TaskID: taskID,
				Data:   map[string]any{fieldStartedAt: startedAt},
			})
			r.publishNewTask(ctx, shiftID, data)
		}

	tick:
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			newIdx, err := r.activeIndex(ctx, shiftKey)
			if err != nil {
				return err
			}
			if newIdx != idx {
				// Another actor moved the cursor: the override wins,
				// no target/remaining_time check applies.
				if err := r.finishTask(ctx, shiftID, taskID, taskKey); err != nil {
					return err
				}
				idx = newIdx
				break tick
			}

			switch taskType {
			case TypeBreak:
				remaining := parseInt(data[fieldRemainingTime])
				if remaining > 0 {
					var left int64
					if err := r.withRetry("decrement remaining_time", func() error {
						var err error
						left, err = r.store.IncrField(ctx, taskKey, fieldRemainingTime, -1)
						return err
					}); err != nil {
						return err
					}

					r.publish(ctx, shiftID, Event{
						Type:   EventTypeTaskUpdate,
						Event:  EventUpdate,
						TaskID: taskID,
						Data:   map[string]any{fieldRemainingTime: left},
					})
				} else {
					if err := r.finishTask(ctx, shiftID, taskID, taskKey); err != nil {
						return err
					}
					if idx, err = r.advanceIndex(ctx, shiftKey, idx); err != nil {
						return err
					}
					break tick
				}

			default:
				var spent int64
				if err := r.withRetry("increment time_spent", func() error {
					var err error
					spent, err = r.store.IncrField(ctx, taskKey, fieldTimeSpent, 1)
					return err
				}); err != nil {
					return err
				}

				r.publish(ctx, shiftID, Event{
					Type:   EventTypeTaskUpdate,
					Event:  EventUpdate,
					TaskID: taskID,
					Data: map[string]any{
						fieldTimeSpent:  spent,
						fieldReadyValue: parseInt(data[fieldReadyValue]),
					},
				})
			}

			// Re-read before sleeping so externally incremented counters
			// (ready_value) are at most one tick stale.
			if data, err = r.taskState(ctx, taskKey); err != nil {
				return err
			}
			r.clock.Sleep(r.tick)
		}
	}

	return r.finalizer.Finalize(ctx, shiftID, "")
}

func (r *Runner) activeIndex(ctx context.Context, shiftKey string) (int, error) {
	var fields map[string]string
	if err := r.withRetry("read active_task_index", func() error {
		var err error
		fields, err = r.store.GetFields(ctx, shiftKey)
		return err
	}); err != nil {
		return 0, err
	}
	return parseInt(fields[fieldActiveTaskIndex]), nil
}

func (r *Runner) advanceIndex(ctx context.Context, shiftKey string, idx int) (int, error) {
	next := idx + 1
	if err := r.withRetry("advance active_task_index", func() error {
		return r.store.SetField(ctx, shiftKey, fieldActiveTaskIndex, next)
	}); err != nil {
		return idx, err
	}
	return next, nil
}

func (r *Runner) taskState(ctx context.Context, taskKey string) (map[string]string, error) {
	var fields map[string]string
	if err := r.withRetry("read task state", func() error {
		var err error
		fields, err = r.store.GetFields(ctx, taskKey)
		return err
	}); err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *Runner) finishTask(ctx context.Context, shiftID, taskID int64, taskKey string) error {
	finishedAt := formatTime(r.clock.Now())
	if err := r.withRetry("stamp finished_at", func() error {
		return r.store.SetField(ctx, taskKey, fieldFinishedAt, finishedAt)
	}); err != nil {
		return err
	}

	r.publish(ctx, shiftID, Event{
		Type:   EventTypeTaskUpdate,
		Event:  EventFinish,
		TaskID: taskID,
		Data:   map[string]any{fieldFinishedAt: finishedAt},
	})
	return nil
}

// publishNewTask sends the full shift record plus the live task state, the
// snapshot observers receive whenever a task becomes current.
func (r *Runner) publishNewTask(ctx context.Context, shiftID int64, taskData map[string]string) {
	var shiftInfo any
	if s, err := r.repo.GetShift(ctx, shiftID); err != nil {
		zap.L().Error("failed to load shift for new_task event",
			zap.Int64("shift_id", shiftID),
			zap.Error(err),
		)
		shiftInfo = map[string]any{"id": shiftID}
	} else {
		shiftInfo = s
	}

	r.publish(ctx, shiftID, Event{
		Type:  EventTypeShiftUpdate,
		Event: EventNewTask,
		Data: map[string]any{
			"shift": shiftInfo,
			"task":  taskData,
		},
	})
}

// publish is fire-and-forget: at-most-once delivery, a failed publish never
// stalls the tick loop.
func (r *Runner) publish(ctx context.Context, shiftID int64, ev Event) {
	if err := r.bus.Publish(ctx, shiftID, ev); err != nil {
		zap.L().Warn("failed to publish shift event",
			zap.Int64("shift_id", shiftID),
			zap.String("event", ev.Event),
			zap.Error(err),
		)
	}
}

// withRetry absorbs transient fast-store failures within one tick step.
func (r *Runner) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		zap.L().Warn("fast store operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return errutil.TransientStore("fast store operation failed: "+op, err)
}

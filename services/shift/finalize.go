package shift

import (
	"context"

	"shiftline-backend/pkg/clock"
	"shiftline-backend/pkg/errutil"
	"shiftline-backend/pkg/rediskey"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Finalizer flushes a shift's fast-store state into the durable store and
// clears the fast-store keys. Both natural completion (runner) and forced
// shift end (lifecycle manager) go through this single routine.
type Finalizer struct {
	repo  *Repository
	store FastStore
	bus   EventBus
	clock clock.Clock
}

type FinalizerParams struct {
	fx.In
	Repo  *Repository
	Store FastStore
	Bus   EventBus
	Clock clock.Clock
}

func NewFinalizer(p FinalizerParams) *Finalizer {
	return &Finalizer{
		repo:  p.Repo,
		store: p.Store,
		bus:   p.Bus,
		clock: p.Clock,
	}
}

// Finalize marks the shift COMPLETED, drains every task's fast-store fields
// into the durable store, then deletes the shift's fast-store keys.
//
// All durable writes happen before any deletion: on a durable-store failure
// the fast store is left intact so finalization can be re-run. Safe to call
// when the fast store holds nothing for the shift (idempotent no-op drain).
func (f *Finalizer) Finalize(ctx context.Context, shiftID int64, endedBy string) error {
	log := zap.L().With(zap.Int64("shift_id", shiftID))

	now := f.clock.Now()
	updates := map[string]any{
		"status":   StatusCompleted,
		"end_time": now,
	}
	if endedBy != "" {
		updates["ended_by"] = endedBy
	}
	if err := f.repo.UpdateShift(ctx, shiftID, updates); err != nil {
		log.Error("failed to mark shift completed", zap.Error(err))
		return errutil.Finalization("failed to mark shift completed", err)
	}

	tasksKey := rediskey.BuildShiftTasksKey(shiftID)
	rawIDs, err := f.store.RangeList(ctx, tasksKey, 0, -1)
	if err != nil {
		log.Error("failed to read task list from fast store", zap.Error(err))
		return errutil.Finalization("failed to read task list from fast store", err)
	}

	taskKeys := make([]string, 0, len(rawIDs))
	for _, raw := range rawIDs {
		taskID, err := parseTaskID(raw)
		if err != nil {
			log.Warn("skipping malformed task id during finalize", zap.String("raw", raw))
			continue
		}

		taskKey := rediskey.BuildTaskKey(taskID)
		taskKeys = append(taskKeys, taskKey)

		fields, err := f.store.GetFields(ctx, taskKey)
		if err != nil {
			log.Error("failed to read task state from fast store", zap.Int64("task_id", taskID), zap.Error(err))
			return errutil.Finalization("failed to read task state from fast store", err)
		}
		if len(fields) == 0 {
			continue
		}

		if err := f.repo.UpdateTask(ctx, taskID, drainTaskFields(fields)); err != nil {
			log.Error("failed to persist final task state", zap.Int64("task_id", taskID), zap.Error(err))
			return errutil.Finalization("failed to persist final task state", err)
		}
	}

	keys := append(taskKeys, rediskey.BuildShiftKey(shiftID), tasksKey)
	if err := f.store.Delete(ctx, keys...); err != nil {
		log.Error("failed to clear fast store after finalize", zap.Error(err))
		return errutil.Finalization("failed to clear fast store", err)
	}

	if err := f.bus.Publish(ctx, shiftID, Event{
		Type:  EventTypeShiftUpdate,
		Event: EventCompleted,
		Data:  map[string]any{"shift_id": shiftID},
	}); err != nil {
		// Fire-and-forget: a missed completion event never blocks finalize.
		log.Warn("failed to publish shift completed event", zap.Error(err))
	}

	log.Info("shift finalized", zap.Int("tasks_drained", len(taskKeys)))
	return nil
}

// drainTaskFields maps the fast-store encoding back onto durable columns.
// Missing fields default to zero or absent.
func drainTaskFields(fields map[string]string) map[string]any {
	updates := map[string]any{
		"time_spent": parseInt64(fields[fieldTimeSpent]),
	}

	if v, ok := fields[fieldReadyValue]; ok && v != "" {
		updates["ready_value"] = parseInt(v)
	}
	if v, ok := fields[fieldRemainingTime]; ok && v != "" {
		updates["remaining_time"] = parseInt(v)
	}
	if t := parseTime(fields[fieldStartedAt]); t != nil {
		updates["started_at"] = t
	}
	if t := parseTime(fields[fieldFinishedAt]); t != nil {
		updates["finished_at"] = t
	}
	return updates
}

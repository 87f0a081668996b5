package shift

import (
	"context"
	"time"

	"shiftline-backend/pkg/clock"
	"shiftline-backend/pkg/config"
	"shiftline-backend/pkg/errutil"
	"shiftline-backend/pkg/rediskey"
	"shiftline-backend/pkg/task"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Manager enforces the single-active-shift invariant and drives the
// PLANNED → ACTIVE transition. The invariant is verified by querying the
// durable store at every activation, never by an in-memory flag, so multiple
// process instances stay consistent.
type Manager struct {
	repo      *Repository
	store     FastStore
	finalizer *Finalizer
	enqueuer  task.Enqueuer
	clock     clock.Clock
}

type ManagerParams struct {
	fx.In
	Repo      *Repository
	Store     FastStore
	Finalizer *Finalizer
	Enqueuer  task.Enqueuer
	Clock     clock.Clock
}

func NewManager(p ManagerParams) *Manager {
	return &Manager{
		repo:      p.Repo,
		store:     p.Store,
		finalizer: p.Finalizer,
		enqueuer:  p.Enqueuer,
		clock:     p.Clock,
	}
}

// CheckAndStartDueShifts activates every planned shift whose start time has
// passed, oldest first. Any currently active shift is fully finalized before
// the next one activates, so no two shifts are ever concurrently active.
func (m *Manager) CheckAndStartDueShifts(ctx context.Context, now time.Time) error {
	due, err := m.repo.ListDueShifts(ctx, now)
	if err != nil {
		zap.L().Error("failed to list due shifts", zap.Error(err))
		return err
	}

	for _, s := range due {
		if err := m.EndActiveShifts(ctx); err != nil {
			return err
		}
		if err := m.Activate(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// EndActiveShifts force-completes every active shift (normally at most one).
// Idempotent: with no active shift it is a no-op, and a repeat call on the
// same shift finds empty fast-store entries and performs no-op updates.
func (m *Manager) EndActiveShifts(ctx context.Context) error {
	active, err := m.repo.ActiveShifts(ctx)
	if err != nil {
		zap.L().Error("failed to list active shifts", zap.Error(err))
		return err
	}

	for _, s := range active {
		zap.L().Info("force-ending active shift", zap.Int64("shift_id", s.ID))
		if err := m.finalizer.Finalize(ctx, s.ID, "scheduler"); err != nil {
			return err
		}
	}
	return nil
}

// Activate marks the shift ACTIVE, seeds the fast store with the shift
// summary and one entry per task, then hands the shift to the runner as a
// background job keyed by shift id.
func (m *Manager) Activate(ctx context.Context, s *Shift) error {
	log := zap.L().With(zap.Int64("shift_id", s.ID))

	tasks, err := m.repo.TasksByShift(ctx, s.ID)
	if err != nil {
		log.Error("failed to load shift tasks", zap.Error(err))
		return err
	}
	if len(tasks) == 0 {
		return errutil.Configuration("cannot activate shift with no tasks", nil)
	}

	now := m.clock.Now()
	if err := m.repo.UpdateShift(ctx, s.ID, map[string]any{
		"status":            StatusActive,
		"start_time":        now,
		"active_task_index": 0,
	}); err != nil {
		log.Error("failed to mark shift active", zap.Error(err))
		return err
	}
	s.Status = StatusActive
	s.StartTime = &now
	s.ActiveTaskIndex = 0

	if err := m.store.SetFields(ctx, rediskey.BuildShiftKey(s.ID), shiftFields(s)); err != nil {
		log.Error("failed to seed shift summary in fast store", zap.Error(err))
		return err
	}

	tasksKey := rediskey.BuildShiftTasksKey(s.ID)
	for _, t := range tasks {
		if err := m.store.SetFields(ctx, rediskey.BuildTaskKey(t.ID), taskFields(t)); err != nil {
			log.Error("failed to seed task in fast store", zap.Int64("task_id", t.ID), zap.Error(err))
			return err
		}
		if err := m.store.PushList(ctx, tasksKey, t.ID); err != nil {
			log.Error("failed to append task to shift task list", zap.Int64("task_id", t.ID), zap.Error(err))
			return err
		}
	}

	if _, err := m.enqueuer.Enqueue(NewLeadShiftTask(s.ID)); err != nil {
		log.Error("failed to enqueue lead shift job", zap.Error(err))
		return err
	}

	log.Info("shift activated", zap.Int("tasks", len(tasks)))
	return nil
}

// Scheduler periodically triggers the due-shift check, the analogue of a
// once-per-minute beat job.
type Scheduler struct {
	manager  *Manager
	clock    clock.Clock
	interval time.Duration
}

func NewScheduler(m *Manager, cfg *config.Config, clk clock.Clock) *Scheduler {
	interval := cfg.Shift.SchedulerInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{manager: m, clock: clk, interval: interval}
}

// StartScheduler is invoked by FX on service start.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started due-shift scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.manager.CheckAndStartDueShifts(ctx, s.clock.Now()); err != nil {
				zap.L().Error("[Scheduler] due-shift check failed", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

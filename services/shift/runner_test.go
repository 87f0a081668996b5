package shift

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"shiftline-backend/pkg/errutil"
	"shiftline-backend/pkg/rediskey"
)

func TestNewLeadShiftTask(t *testing.T) {
	task := NewLeadShiftTask(42)

	require.Equal(t, TaskLeadShift, task.Type())

	var payload LeadShiftPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.EqualValues(t, 42, payload.ShiftID)
}

func TestRunBreakCountdown(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	base := w.clk.Now()

	shift := &Shift{
		ID:     100,
		Status: StatusPlanned,
		Master: "petrov",
		Tasks: []ShiftTask{
			{ID: 1001, ShiftID: 100, Type: TypeBreak, Order: 0, RemainingTime: iptr(3)},
		},
	}
	require.NoError(t, w.repo.CreateShift(ctx, shift))
	require.NoError(t, w.manager.Activate(ctx, shift))

	require.NoError(t, w.runner.Run(ctx, 100))

	// One update per countdown second, then the finish on the tick after
	// the counter reaches zero.
	require.Equal(t,
		[]string{EventStart, EventNewTask, EventUpdate, EventUpdate, EventUpdate, EventFinish, EventCompleted},
		w.bus.names(),
	)
	events := w.bus.recorded()
	require.EqualValues(t, 2, events[2].Data[fieldRemainingTime])
	require.EqualValues(t, 1, events[3].Data[fieldRemainingTime])
	require.EqualValues(t, 0, events[4].Data[fieldRemainingTime])

	tasks, err := w.repo.TasksByShift(ctx, 100)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].RemainingTime)
	require.Equal(t, 0, *tasks[0].RemainingTime)
	require.NotNil(t, tasks[0].StartedAt)
	require.True(t, tasks[0].StartedAt.Equal(base))
	require.NotNil(t, tasks[0].FinishedAt)
	require.True(t, tasks[0].FinishedAt.Equal(base.Add(3*time.Second)))

	done, err := w.repo.GetShift(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.EndTime)

	require.Empty(t, w.store.hash(rediskey.BuildShiftKey(100)))
	require.Empty(t, w.store.hash(rediskey.BuildTaskKey(1001)))
	require.Empty(t, w.store.list(rediskey.BuildShiftTasksKey(100)))
}

func TestRunManualOverride(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	shift := &Shift{
		ID:     200,
		Status: StatusPlanned,
		Master: "ivanova",
		Tasks: []ShiftTask{
			{ID: 2001, ShiftID: 200, Type: TypeTask, Order: 0, ProductID: i64ptr(1), PackingID: i64ptr(2), Target: iptr(500)},
			{ID: 2002, ShiftID: 200, Type: TypeBreak, Order: 1, RemainingTime: iptr(1)},
		},
	}
	require.NoError(t, w.repo.CreateShift(ctx, shift))
	require.NoError(t, w.manager.Activate(ctx, shift))

	// Skip the production task after its second tick, the way a request
	// handler moves the cursor out from under the runner.
	w.clk.onSleep = func(n int) {
		if n == 2 {
			err := w.store.SetField(ctx, rediskey.BuildShiftKey(200), fieldActiveTaskIndex, 1)
			require.NoError(t, err)
		}
	}

	require.NoError(t, w.runner.Run(ctx, 200))

	require.Equal(t,
		[]string{
			EventStart, EventNewTask, EventUpdate, EventUpdate, EventFinish,
			EventStart, EventNewTask, EventUpdate, EventFinish,
			EventCompleted,
		},
		w.bus.names(),
	)

	tasks, err := w.repo.TasksByShift(ctx, 200)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	// The skipped task keeps the time it accrued and is stamped finished
	// even though it never reached its target.
	require.NotNil(t, tasks[0].TimeSpent)
	require.EqualValues(t, 2, *tasks[0].TimeSpent)
	require.NotNil(t, tasks[0].FinishedAt)

	require.NotNil(t, tasks[1].RemainingTime)
	require.Equal(t, 0, *tasks[1].RemainingTime)

	done, err := w.repo.GetShift(ctx, 200)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
}

func TestRunDrainsReadyValue(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	shift := &Shift{
		ID:     250,
		Status: StatusPlanned,
		Master: "petrov",
		Tasks: []ShiftTask{
			{ID: 2501, ShiftID: 250, Type: TypeTask, Order: 0, ProductID: i64ptr(1), PackingID: i64ptr(2), Target: iptr(50)},
		},
	}
	require.NoError(t, w.repo.CreateShift(ctx, shift))
	require.NoError(t, w.manager.Activate(ctx, shift))

	// Pack ten units during the first tick, then move the cursor past the
	// task so the shift finalizes.
	w.clk.onSleep = func(n int) {
		if n != 1 {
			return
		}
		for i := 0; i < 10; i++ {
			_, err := w.store.IncrField(ctx, rediskey.BuildTaskKey(2501), fieldReadyValue, 1)
			require.NoError(t, err)
		}
		err := w.store.SetField(ctx, rediskey.BuildShiftKey(250), fieldActiveTaskIndex, 1)
		require.NoError(t, err)
	}

	require.NoError(t, w.runner.Run(ctx, 250))

	// The last fast-store value survives the drain into the durable row.
	tasks, err := w.repo.TasksByShift(ctx, 250)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].ReadyValue)
	require.Equal(t, 10, *tasks[0].ReadyValue)
	require.NotNil(t, tasks[0].TimeSpent)
	require.EqualValues(t, 1, *tasks[0].TimeSpent)

	require.Empty(t, w.store.hash(rediskey.BuildTaskKey(2501)))
	require.Empty(t, w.store.list(rediskey.BuildShiftTasksKey(250)))
}

func TestRunNoTasks(t *testing.T) {
	w := newWorld(t)

	err := w.runner.Run(context.Background(), 555)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusConfiguration))
}

func TestProcessTaskConfigurationSkipsRetry(t *testing.T) {
	w := newWorld(t)

	err := w.runner.ProcessTask(context.Background(), NewLeadShiftTask(555))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTaskMalformedPayloadSkipsRetry(t *testing.T) {
	w := newWorld(t)

	err := w.runner.ProcessTask(context.Background(), asynq.NewTask(TaskLeadShift, []byte("{")))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTaskTransientStoreRetries(t *testing.T) {
	w := newWorld(t)
	w.store.failOp = func(op, key string) error {
		if op == "range" {
			return errors.New("connection reset")
		}
		return nil
	}

	err := w.runner.ProcessTask(context.Background(), NewLeadShiftTask(100))
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusTransientStore))
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

package shift

import (
	"context"
	"encoding/json"

	"shiftline-backend/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	EventTypeTaskUpdate  = "task_update"
	EventTypeShiftUpdate = "shift_update"

	EventStart     = "start"
	EventUpdate    = "update"
	EventFinish    = "finish"
	EventNewTask   = "new_task"
	EventCompleted = "completed"
)

// Event is the JSON message delivered to shift-scoped subscribers.
type Event struct {
	Type   string         `json:"type"`
	Event  string         `json:"event"`
	TaskID int64          `json:"task_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// EventBus fans out live shift state changes. Delivery is at-most-once to
// current subscribers; a new listener must fetch a snapshot separately.
type EventBus interface {
	Publish(ctx context.Context, shiftID int64, ev Event) error
	Subscribe(ctx context.Context, shiftID int64) (<-chan Event, func(), error)
}

type redisBus struct {
	rdb *redis.Client
}

type EventBusParams struct {
	fx.In
	Redis *redis.Client
}

func NewEventBus(p EventBusParams) EventBus {
	return &redisBus{rdb: p.Redis}
}

func (b *redisBus) Publish(ctx context.Context, shiftID int64, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, rediskey.BuildShiftEventsKey(shiftID), payload).Err()
}

func (b *redisBus) Subscribe(ctx context.Context, shiftID int64) (<-chan Event, func(), error) {
	sub := b.rdb.Subscribe(ctx, rediskey.BuildShiftEventsKey(shiftID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				zap.L().Warn("dropping malformed shift event",
					zap.Int64("shift_id", shiftID),
					zap.Error(err),
				)
				continue
			}

			select {
			case out <- ev:
			default:
				// Slow consumer: drop, delivery is at-most-once.
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

package shift

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Fast-store field names. The shift hash carries the live cursor; each task
// hash carries the per-task live state mutated every tick.
const (
	fieldID              = "id"
	fieldMaster          = "master"
	fieldStatus          = "status"
	fieldActiveTaskIndex = "active_task_index"
	fieldType            = "type"
	fieldOrder           = "order"
	fieldShift           = "shift"
	fieldTarget          = "target"
	fieldReadyValue      = "ready_value"
	fieldProduct         = "product"
	fieldPacking         = "packing"
	fieldNormInMinute    = "norm_in_minute"
	fieldRemainingTime   = "remaining_time"
	fieldTimeSpent       = "time_spent"
	fieldStartedAt       = "started_at"
	fieldFinishedAt      = "finished_at"
)

// FastStore is the narrow port over the live key-value state. All operations
// are single-key and atomic at the store level; the runner and the request
// handlers share no other mutable state.
type FastStore interface {
	GetFields(ctx context.Context, key string) (map[string]string, error)
	SetField(ctx context.Context, key, field string, value any) error
	SetFields(ctx context.Context, key string, fields map[string]any) error
	IncrField(ctx context.Context, key, field string, delta int64) (int64, error)
	PushList(ctx context.Context, key string, values ...any) error
	RangeList(ctx context.Context, key string, start, stop int64) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

type redisStore struct {
	rdb *redis.Client
}

type FastStoreParams struct {
	fx.In
	Redis *redis.Client
}

func NewFastStore(p FastStoreParams) FastStore {
	return &redisStore{rdb: p.Redis}
}

func (s *redisStore) GetFields(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *redisStore) SetField(ctx context.Context, key, field string, value any) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

func (s *redisStore) SetFields(ctx context.Context, key string, fields map[string]any) error {
	return s.rdb.HSet(ctx, key, fields).Err()
}

func (s *redisStore) IncrField(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.rdb.HIncrBy(ctx, key, field, delta).Result()
}

func (s *redisStore) PushList(ctx context.Context, key string, values ...any) error {
	return s.rdb.RPush(ctx, key, values...).Err()
}

func (s *redisStore) RangeList(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}

// shiftFields is the seed encoding of one shift summary.
func shiftFields(s *Shift) map[string]any {
	return map[string]any{
		fieldID:              s.ID,
		fieldMaster:          s.Master,
		fieldStatus:          s.Status.String(),
		fieldActiveTaskIndex: s.ActiveTaskIndex,
	}
}

// taskFields is the seed encoding of one task. TASK entries carry production
// fields, BREAK entries carry only the countdown.
func taskFields(t *ShiftTask) map[string]any {
	fields := map[string]any{
		fieldID:    t.ID,
		fieldType:  t.Type.String(),
		fieldOrder: t.Order,
		fieldShift: t.ShiftID,
	}

	if t.Type == TypeBreak {
		fields[fieldRemainingTime] = intOrZero(t.RemainingTime)
		return fields
	}

	fields[fieldTarget] = intOrZero(t.Target)
	fields[fieldReadyValue] = 0
	if t.ProductID != nil {
		fields[fieldProduct] = *t.ProductID
	}
	if t.PackingID != nil {
		fields[fieldPacking] = *t.PackingID
	}
	if t.NormInMinute != nil {
		fields[fieldNormInMinute] = *t.NormInMinute
	}
	return fields
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func parseInt(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}

func parseInt64(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTaskID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed task id %q: %w", raw, err)
	}
	return id, nil
}

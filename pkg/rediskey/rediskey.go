package rediskey

import "fmt"

// Shift keys (global convention across server and worker)
const (
	ShiftPrefix = "shift"
	TaskPrefix  = "task"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildShiftKey returns "shift:{shiftID}"
func BuildShiftKey(shiftID int64) string {
	return NamespaceKey(ShiftPrefix, fmt.Sprintf("%d", shiftID))
}

// BuildShiftTasksKey returns "shift:{shiftID}:tasks"
func BuildShiftTasksKey(shiftID int64) string {
	return fmt.Sprintf("%s:%d:tasks", ShiftPrefix, shiftID)
}

// BuildTaskKey returns "task:{taskID}"
func BuildTaskKey(taskID int64) string {
	return NamespaceKey(TaskPrefix, fmt.Sprintf("%d", taskID))
}

// BuildShiftEventsKey returns "shift:{shiftID}:events", the pub/sub channel
// carrying live task and shift updates for one shift.
func BuildShiftEventsKey(shiftID int64) string {
	return fmt.Sprintf("%s:%d:events", ShiftPrefix, shiftID)
}

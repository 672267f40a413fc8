package models

import "time"

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusComplete   TaskStatus = "COMPLETE"
	TaskStatusOnHold     TaskStatus = "ON_HOLD"
)

// TaskPriority enumerates task priorities from most to least urgent.
type TaskPriority string

const (
	TaskPriorityVeryHigh TaskPriority = "VERY_HIGH"
	TaskPriorityHigh     TaskPriority = "HIGH"
	TaskPriorityMiddle   TaskPriority = "MIDDLE"
	TaskPriorityLow      TaskPriority = "LOW"
	TaskPriorityVeryLow  TaskPriority = "VERY_LOW"
)

// Task represents a to-do item owned by a user.
type Task struct {
	ID           string       `db:"id" json:"id"`
	UserID       string       `db:"user_id" json:"user_id"`
	Title        string       `db:"title" json:"title"`
	Memo         string       `db:"memo" json:"memo,omitempty"`
	Category     string       `db:"category" json:"category"`
	Priority     TaskPriority `db:"priority" json:"priority"`
	Status       TaskStatus   `db:"status" json:"status"`
	PlanningDate *time.Time   `db:"planning_date" json:"planning_date,omitempty"`
	DoneAt       *time.Time   `db:"done_at" json:"done_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// TaskFilter captures filtering criteria for listing tasks.
type TaskFilter struct {
	Status   *TaskStatus
	Priority *TaskPriority
	Category string
	Search   string
	Page     int
	PageSize int
}

// CreateTaskRequest is the payload for creating a task.
type CreateTaskRequest struct {
	Title        string     `json:"title" validate:"required,max=50"`
	Memo         string     `json:"memo" validate:"max=200"`
	Category     string     `json:"category" validate:"max=30"`
	Priority     string     `json:"priority" validate:"omitempty,oneof=VERY_HIGH HIGH MIDDLE LOW VERY_LOW"`
	PlanningDate *time.Time `json:"planning_date"`
}

// UpdateTaskRequest is the payload for updating a task.
type UpdateTaskRequest struct {
	Title        *string    `json:"title" validate:"omitempty,max=50"`
	Memo         *string    `json:"memo" validate:"omitempty,max=200"`
	Category     *string    `json:"category" validate:"omitempty,max=30"`
	Priority     *string    `json:"priority" validate:"omitempty,oneof=VERY_HIGH HIGH MIDDLE LOW VERY_LOW"`
	Status       *string    `json:"status" validate:"omitempty,oneof=IN_PROGRESS COMPLETE ON_HOLD"`
	PlanningDate *time.Time `json:"planning_date"`
}

// TaskSummary aggregates a user's task counts for dashboard views.
type TaskSummary struct {
	Total          int            `json:"total"`
	Complete       int            `json:"complete"`
	InProgress     int            `json:"in_progress"`
	OnHold         int            `json:"on_hold"`
	CompletionRate float64        `json:"completion_rate"`
	ByPriority     map[string]int `json:"by_priority"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

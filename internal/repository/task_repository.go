package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

// TaskRepository provides database access for tasks.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new instance of TaskRepository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, user_id, title, memo, category, priority, status, planning_date, done_at, created_at, updated_at`

// FindByID returns a task by identifier scoped to its owner.
func (r *TaskRepository) FindByID(ctx context.Context, userID, id string) (*models.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND user_id = $2 LIMIT 1`
	var task models.Task
	if err := r.db.GetContext(ctx, &task, query, id, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find task by id: %w", err)
	}
	return &task, nil
}

// List returns a user's tasks matching the filter with total count.
func (r *TaskRepository) List(ctx context.Context, userID string, filter models.TaskFilter) ([]models.Task, int, error) {
	baseQuery := `FROM tasks WHERE user_id = $1`
	args := []interface{}{userID}
	var conditions []string

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, *filter.Priority)
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(memo) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", taskColumns, baseQuery, pageSize, offset)

	var tasks []models.Task
	if err := r.db.SelectContext(ctx, &tasks, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	return tasks, total, nil
}

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	const query = `INSERT INTO tasks (id, user_id, title, memo, category, priority, status, planning_date, done_at, created_at, updated_at) VALUES (:id, :user_id, :title, :memo, :category, :priority, :status, :planning_date, :done_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Update updates mutable fields of a task.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	const query = `UPDATE tasks SET title = :title, memo = :memo, category = :category, priority = :priority, status = :status, planning_date = :planning_date, done_at = :done_at, updated_at = :updated_at WHERE id = :id AND user_id = :user_id`
	res, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a task owned by the given user.
func (r *TaskRepository) Delete(ctx context.Context, userID, id string) error {
	const query = `DELETE FROM tasks WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type taskStatusCount struct {
	Status models.TaskStatus `db:"status"`
	Count  int               `db:"count"`
}

type taskPriorityCount struct {
	Priority models.TaskPriority `db:"priority"`
	Count    int                 `db:"count"`
}

// Summary aggregates a user's task counts grouped by status and priority.
func (r *TaskRepository) Summary(ctx context.Context, userID string) (*models.TaskSummary, error) {
	const statusQuery = `SELECT status, COUNT(*) AS count FROM tasks WHERE user_id = $1 GROUP BY status`
	var statusCounts []taskStatusCount
	if err := r.db.SelectContext(ctx, &statusCounts, statusQuery, userID); err != nil {
		return nil, fmt.Errorf("summarize task statuses: %w", err)
	}

	const priorityQuery = `SELECT priority, COUNT(*) AS count FROM tasks WHERE user_id = $1 GROUP BY priority`
	var priorityCounts []taskPriorityCount
	if err := r.db.SelectContext(ctx, &priorityCounts, priorityQuery, userID); err != nil {
		return nil, fmt.Errorf("summarize task priorities: %w", err)
	}

	summary := &models.TaskSummary{ByPriority: make(map[string]int)}
	for _, sc := range statusCounts {
		summary.Total += sc.Count
		switch sc.Status {
		case models.TaskStatusComplete:
			summary.Complete = sc.Count
		case models.TaskStatusInProgress:
			summary.InProgress = sc.Count
		case models.TaskStatusOnHold:
			summary.OnHold = sc.Count
		}
	}
	for _, pc := range priorityCounts {
		summary.ByPriority[string(pc.Priority)] = pc.Count
	}
	if summary.Total > 0 {
		summary.CompletionRate = float64(summary.Complete) / float64(summary.Total) * 100
	}

	return summary, nil
}

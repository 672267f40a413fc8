package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/internal/models"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/export"
)

type taskRepository interface {
	FindByID(ctx context.Context, userID, id string) (*models.Task, error)
	List(ctx context.Context, userID string, filter models.TaskFilter) ([]models.Task, int, error)
	Create(ctx context.Context, task *models.Task) error
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, userID, id string) error
	Summary(ctx context.Context, userID string) (*models.TaskSummary, error)
}

type taskUserResolver interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type cacheMetrics interface {
	RecordCacheLookup(hit bool)
}

// TaskExport is a rendered export document ready to stream to a client.
type TaskExport struct {
	Content     []byte
	ContentType string
	Filename    string
}

// TaskService implements task CRUD, summaries, and exports. All
// operations are scoped to the authenticated subject; a task belonging
// to another user is indistinguishable from a missing one.
type TaskService struct {
	tasks      taskRepository
	users      taskUserResolver
	cache      summaryCache
	audit      auditRecorder
	metrics    cacheMetrics
	csv        *export.CSVExporter
	pdf        *export.PDFExporter
	validator  *validator.Validate
	logger     *zap.Logger
	summaryTTL time.Duration
}

// NewTaskService constructs a TaskService instance.
func NewTaskService(tasks taskRepository, users taskUserResolver, cache summaryCache, audit auditRecorder, metrics cacheMetrics, validate *validator.Validate, logger *zap.Logger, summaryTTL time.Duration) *TaskService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if summaryTTL <= 0 {
		summaryTTL = 5 * time.Minute
	}
	return &TaskService{
		tasks:      tasks,
		users:      users,
		cache:      cache,
		audit:      audit,
		metrics:    metrics,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		validator:  validate,
		logger:     logger,
		summaryTTL: summaryTTL,
	}
}

// List returns the subject's tasks matching the filter.
func (s *TaskService) List(ctx context.Context, subject string, filter models.TaskFilter) ([]models.Task, *models.Pagination, error) {
	user, err := s.resolveUser(ctx, subject)
	if err != nil {
		return nil, nil, err
	}

	tasks, total, err := s.tasks.List(ctx, user.ID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tasks")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return tasks, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one of the subject's tasks by id.
func (s *TaskService) Get(ctx context.Context, subject, id string) (*models.Task, error) {
	user, err := s.resolveUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.FindByID(ctx, user.ID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	return task, nil
}

// Create stores a new task for the subject.
func (s *TaskService) Create(ctx context.Context, subject string, req models.CreateTaskRequest) (*models.Task, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}

	user, err := s.resolveUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	priority := models.TaskPriority(req.Priority)
	if priority == "" {
		priority = models.TaskPriorityMiddle
	}

	task := &models.Task{
		UserID:       user.ID,
		Title:        req.Title,
		Memo:         req.Memo,
		Category:     req.Category,
		Priority:     priority,
		Status:       models.TaskStatusInProgress,
		PlanningDate: req.PlanningDate,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create task")
	}

	s.invalidateSummary(ctx, user.ID)
	s.recordTaskAudit(user.ID, models.AuditActionTaskCreate, task.ID)

	return task, nil
}

// Update applies partial changes to one of the subject's tasks.
func (s *TaskService) Update(ctx context.Context, subject, id string, req models.UpdateTaskRequest) (*models.Task, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}

	user, err := s.resolveUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.FindByID(ctx, user.ID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}

	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Memo != nil {
		task.Memo = *req.Memo
	}
	if req.Category != nil {
		task.Category = *req.Category
	}
	if req.Priority != nil {
		task.Priority = models.TaskPriority(*req.Priority)
	}
	if req.PlanningDate != nil {
		task.PlanningDate = req.PlanningDate
	}
	if req.Status != nil {
		next := models.TaskStatus(*req.Status)
		if next == models.TaskStatusComplete && task.Status != models.TaskStatusComplete {
			now := time.Now().UTC()
			task.DoneAt = &now
		}
		if next != models.TaskStatusComplete {
			task.DoneAt = nil
		}
		task.Status = next
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task")
	}

	s.invalidateSummary(ctx, user.ID)
	s.recordTaskAudit(user.ID, models.AuditActionTaskUpdate, task.ID)

	return task, nil
}

// Delete removes one of the subject's tasks.
func (s *TaskService) Delete(ctx context.Context, subject, id string) error {
	user, err := s.resolveUser(ctx, subject)
	if err != nil {
		return err
	}

	if err := s.tasks.Delete(ctx, user.ID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete task")
	}

	s.invalidateSummary(ctx, user.ID)
	s.recordTaskAudit(user.ID, models.AuditActionTaskDelete, id)

	return nil
}

// Summary returns the subject's aggregated task counts, served from
// cache when a fresh copy exists.
func (s *TaskService) Summary(ctx context.Context, subject string) (*models.TaskSummary, error) {
	user, err := s.resolveUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	key := summaryCacheKey(user.ID)
	if s.cache != nil {
		var cached models.TaskSummary
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.recordCacheLookup(true)
			return &cached, nil
		}
		s.recordCacheLookup(false)
	}

	summary, err := s.tasks.Summary(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarize tasks")
	}
	summary.GeneratedAt = time.Now().UTC()

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, s.summaryTTL); err != nil {
			s.logger.Warn("failed to cache task summary", zap.Error(err))
		}
	}

	return summary, nil
}

// Export renders the subject's tasks as CSV or PDF.
func (s *TaskService) Export(ctx context.Context, subject, format string) (*TaskExport, error) {
	user, err := s.resolveUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	tasks, err := s.listAllTasks(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	table := taskTable(tasks)
	stamp := time.Now().UTC().Format("20060102")

	switch format {
	case "csv", "":
		content, err := s.csv.Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &TaskExport{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("tasks-%s.csv", stamp),
		}, nil
	case "pdf":
		content, err := s.pdf.Render(table, "Task List")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &TaskExport{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("tasks-%s.pdf", stamp),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

const exportPageSize = 100

// listAllTasks walks every page of a user's tasks so exports are never
// truncated at the list endpoint's page limit.
func (s *TaskService) listAllTasks(ctx context.Context, userID string) ([]models.Task, error) {
	filter := models.TaskFilter{Page: 1, PageSize: exportPageSize}
	var all []models.Task
	for {
		page, total, err := s.tasks.List(ctx, userID, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tasks")
		}
		all = append(all, page...)
		if len(all) >= total || len(page) == 0 {
			return all, nil
		}
		filter.Page++
	}
}

func (s *TaskService) resolveUser(ctx context.Context, subject string) (*models.User, error) {
	user, err := s.users.FindByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown subject")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve user")
	}
	return user, nil
}

func (s *TaskService) invalidateSummary(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, summaryCacheKey(userID)); err != nil {
		s.logger.Warn("failed to invalidate task summary cache", zap.Error(err))
	}
}

func (s *TaskService) recordTaskAudit(userID, action, taskID string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(&models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "tasks",
		ResourceID: &taskID,
	})
}

func (s *TaskService) recordCacheLookup(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(hit)
	}
}

func summaryCacheKey(userID string) string {
	return "tasks:summary:" + userID
}

func taskTable(tasks []models.Task) export.Table {
	columns := []string{"Title", "Category", "Priority", "Status", "Planning Date", "Done At"}
	records := make([]map[string]string, 0, len(tasks))
	for _, task := range tasks {
		record := map[string]string{
			"Title":    task.Title,
			"Category": task.Category,
			"Priority": string(task.Priority),
			"Status":   string(task.Status),
		}
		if task.PlanningDate != nil {
			record["Planning Date"] = task.PlanningDate.Format("2006-01-02")
		}
		if task.DoneAt != nil {
			record["Done At"] = task.DoneAt.Format("2006-01-02")
		}
		records = append(records, record)
	}
	return export.Table{Columns: columns, Records: records}
}

package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskdesk/taskdesk-api/internal/middleware"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/service"
	"github.com/taskdesk/taskdesk-api/pkg/token"
)

type memTasks struct {
	byID map[string]*models.Task
}

func (m *memTasks) FindByID(_ context.Context, userID, id string) (*models.Task, error) {
	if task, ok := m.byID[id]; ok && task.UserID == userID {
		return task, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memTasks) List(_ context.Context, userID string, _ models.TaskFilter) ([]models.Task, int, error) {
	var tasks []models.Task
	for _, task := range m.byID {
		if task.UserID == userID {
			tasks = append(tasks, *task)
		}
	}
	return tasks, len(tasks), nil
}

func (m *memTasks) Create(_ context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = "t-" + task.Title
	}
	m.byID[task.ID] = task
	return nil
}

func (m *memTasks) Update(_ context.Context, task *models.Task) error {
	if existing, ok := m.byID[task.ID]; !ok || existing.UserID != task.UserID {
		return sql.ErrNoRows
	}
	m.byID[task.ID] = task
	return nil
}

func (m *memTasks) Delete(_ context.Context, userID, id string) error {
	if task, ok := m.byID[id]; ok && task.UserID == userID {
		delete(m.byID, id)
		return nil
	}
	return sql.ErrNoRows
}

func (m *memTasks) Summary(_ context.Context, userID string) (*models.TaskSummary, error) {
	summary := &models.TaskSummary{ByPriority: make(map[string]int)}
	for _, task := range m.byID {
		if task.UserID != userID {
			continue
		}
		summary.Total++
		if task.Status == models.TaskStatusComplete {
			summary.Complete++
		}
		summary.ByPriority[string(task.Priority)]++
	}
	if summary.Total > 0 {
		summary.CompletionRate = float64(summary.Complete) / float64(summary.Total) * 100
	}
	return summary, nil
}

func newTaskTestRouter(t *testing.T, tasks *memTasks) (*gin.Engine, string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	users := &memUsers{byUsername: map[string]*models.User{
		"alice": {ID: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: string(hash), Role: models.RoleUser, Enabled: true},
	}}

	codec := token.NewCodec(testSecret, "taskdesk-api", "taskdesk-users", 0)
	svc := service.NewTaskService(tasks, users, nil, nil, nil, nil, nil, time.Minute)
	h := NewTaskHandler(svc)

	r := gin.New()
	r.Use(middleware.Authenticate(codec, middleware.AuthOptions{}))
	group := r.Group("/tasks", middleware.RequireAuth())
	{
		group.GET("", h.List)
		group.POST("", h.Create)
		group.GET("/summary", h.Summary)
		group.GET("/export", h.Export)
		group.GET("/:id", h.Get)
		group.PUT("/:id", h.Update)
		group.DELETE("/:id", h.Delete)
	}

	access, err := codec.Encode("alice", []string{"USER"}, token.KindAccess, time.Minute)
	require.NoError(t, err)
	return r, "Bearer " + access
}

func TestTaskEndpointsRequireAuth(t *testing.T) {
	r, _ := newTaskTestRouter(t, &memTasks{byID: make(map[string]*models.Task)})

	w := getPath(r, "/tasks", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTaskCreateAndGet(t *testing.T) {
	tasks := &memTasks{byID: make(map[string]*models.Task)}
	r, auth := newTaskTestRouter(t, tasks)

	w := postJSON(r, "/tasks", gin.H{"title": "report", "priority": "HIGH"}, auth)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"IN_PROGRESS"`)

	w = getPath(r, "/tasks/t-report", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"priority":"HIGH"`)
}

func TestTaskGetMissingIs404(t *testing.T) {
	r, auth := newTaskTestRouter(t, &memTasks{byID: make(map[string]*models.Task)})

	w := getPath(r, "/tasks/none", auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskSummaryEndpoint(t *testing.T) {
	tasks := &memTasks{byID: map[string]*models.Task{
		"t1": {ID: "t1", UserID: "u1", Title: "a", Status: models.TaskStatusComplete, Priority: models.TaskPriorityHigh},
		"t2": {ID: "t2", UserID: "u1", Title: "b", Status: models.TaskStatusInProgress, Priority: models.TaskPriorityLow},
	}}
	r, auth := newTaskTestRouter(t, tasks)

	w := getPath(r, "/tasks/summary", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":2`)
	assert.Contains(t, w.Body.String(), `"completion_rate":50`)
}

func TestTaskExportEndpoint(t *testing.T) {
	tasks := &memTasks{byID: map[string]*models.Task{
		"t1": {ID: "t1", UserID: "u1", Title: "write report", Status: models.TaskStatusInProgress, Priority: models.TaskPriorityHigh},
	}}
	r, auth := newTaskTestRouter(t, tasks)

	w := getPath(r, "/tasks/export?format=csv", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "write report")
}

func TestTaskDeleteEndpoint(t *testing.T) {
	tasks := &memTasks{byID: map[string]*models.Task{
		"t1": {ID: "t1", UserID: "u1", Title: "a", Status: models.TaskStatusInProgress, Priority: models.TaskPriorityHigh},
	}}
	r, auth := newTaskTestRouter(t, tasks)

	req := func(method, path string) int {
		httpReq := httptest.NewRequest(method, path, nil)
		httpReq.Header.Set("Authorization", auth)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httpReq)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, req(http.MethodDelete, "/tasks/t1"))
	assert.Equal(t, http.StatusNotFound, req(http.MethodDelete, "/tasks/t1"))
}

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termstack/broker/internal/db"
	"github.com/termstack/broker/internal/model"
	"github.com/termstack/broker/internal/notify"
	"github.com/termstack/broker/internal/pty"
	"github.com/termstack/broker/internal/queue"
	"github.com/termstack/broker/internal/repository"
	"github.com/termstack/broker/internal/ws"
)

func newTestRouter(t *testing.T) (*gin.Engine, *repository.QueueRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	repo := repository.NewQueueRepository(testDB)
	terminals := pty.NewManager(pty.Config{})
	t.Cleanup(terminals.Close)
	conns := ws.NewManager(ws.Config{})
	t.Cleanup(conns.Close)

	service := queue.NewService(repo, queue.PTYTerminals{Manager: terminals}, conns, notify.NewLogNotifier(), queue.Config{})

	r := gin.New()
	api := r.Group("/api")
	NewTerminalHandler(terminals).RegisterRoutes(api)
	NewQueueHandler(repo, service).RegisterRoutes(api)
	return r, repo
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateQueueEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/queues", gin.H{
		"terminalId": "term-1",
		"name":       "deploy",
		"commands":   []string{"make build", "make deploy"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var q model.Queue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.Equal(t, "term-1", q.TerminalID)
	assert.Equal(t, model.QueueStatusPending, q.Status)
	assert.NotEmpty(t, q.ID)
}

func TestCreateQueueEndpointValidatesBody(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/queues", gin.H{"name": "no terminal"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestGetQueueEndpointReturnsCommands(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/queues", gin.H{
		"terminalId": "term-1",
		"commands":   []string{"echo a", "echo b"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.Queue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, r, http.MethodGet, "/api/queues/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got QueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Commands, 2)
	assert.Equal(t, "echo a", got.Commands[0].Text)
	assert.Equal(t, "echo b", got.Commands[1].Text)
}

func TestGetQueueEndpointNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/queues/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartQueueEndpointRejectsDeadTerminal(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/queues", gin.H{
		"terminalId": "no-such-terminal",
		"commands":   []string{"ls"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.Queue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, r, http.MethodPost, "/api/queues/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "TERMINAL_NOT_FOUND", resp.Error.Code)
}

func TestTerminalEndpointsNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/terminals/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/terminals/missing/execute", gin.H{"command": "ls"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTerminalValidatesBody(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/terminals", gin.H{"cols": 80})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTerminalsEmpty(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/terminals", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []*model.Terminal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestTaskEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/tasks", gin.H{"title": "deploy service"})
	require.Equal(t, http.StatusCreated, w.Code)

	var task model.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, model.TaskStatusInProgress, task.Status)

	w = doJSON(t, r, http.MethodGet, "/api/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

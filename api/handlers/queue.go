package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/termstack/broker/internal/model"
	"github.com/termstack/broker/internal/queue"
	"github.com/termstack/broker/internal/repository"
)

// QueueHandler handles HTTP requests for command queues and linked tasks.
type QueueHandler struct {
	repo    *repository.QueueRepository
	service *queue.Service
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(repo *repository.QueueRepository, service *queue.Service) *QueueHandler {
	return &QueueHandler{repo: repo, service: service}
}

// CreateQueueRequest represents the request body for creating a queue.
type CreateQueueRequest struct {
	TerminalID string   `json:"terminalId" binding:"required"`
	Name       string   `json:"name"`
	Commands   []string `json:"commands" binding:"required"`
	TaskID     *string  `json:"taskId"`
}

// QueueResponse represents a queue with its commands.
type QueueResponse struct {
	*model.Queue
	Commands []*model.Command `json:"commands,omitempty"`
}

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	Title string `json:"title" binding:"required"`
}

// Create handles POST /api/queues - persists a new PENDING queue.
func (h *QueueHandler) Create(c *gin.Context) {
	var req CreateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	q, err := h.repo.CreateQueue(c.Request.Context(), &model.CreateQueueRequest{
		TerminalID: req.TerminalID,
		Name:       req.Name,
		Commands:   req.Commands,
		TaskID:     req.TaskID,
		UserID:     getUserID(c),
	})
	if err != nil {
		if errors.Is(err, model.ErrTerminalIDRequired) || errors.Is(err, model.ErrCommandsRequired) {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create queue: "+err.Error())
		return
	}
	c.JSON(http.StatusCreated, q)
}

// List handles GET /api/queues - lists the user's queues.
func (h *QueueHandler) List(c *gin.Context) {
	queues, err := h.repo.ListQueuesByUser(c.Request.Context(), getUserID(c))
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list queues: "+err.Error())
		return
	}
	if queues == nil {
		queues = []*model.Queue{}
	}
	c.JSON(http.StatusOK, queues)
}

// Get handles GET /api/queues/:id - returns a queue with its commands.
func (h *QueueHandler) Get(c *gin.Context) {
	q, ok := h.findOwned(c)
	if !ok {
		return
	}

	commands, err := h.repo.ListCommands(c.Request.Context(), q.ID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list commands: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, QueueResponse{Queue: q, Commands: commands})
}

// Start handles POST /api/queues/:id/start - begins execution.
func (h *QueueHandler) Start(c *gin.Context) {
	q, ok := h.findOwned(c)
	if !ok {
		return
	}

	if err := h.service.StartQueue(c.Request.Context(), q.ID); err != nil {
		switch {
		case errors.Is(err, model.ErrTerminalNotFound):
			sendError(c, http.StatusConflict, "TERMINAL_NOT_FOUND", err.Error())
		case errors.Is(err, model.ErrQueueActive):
			sendError(c, http.StatusConflict, "QUEUE_ACTIVE", err.Error())
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start queue: "+err.Error())
		}
		return
	}
	c.Status(http.StatusAccepted)
}

// Cancel handles POST /api/queues/:id/cancel.
func (h *QueueHandler) Cancel(c *gin.Context) {
	q, ok := h.findOwned(c)
	if !ok {
		return
	}

	if err := h.service.CancelQueue(c.Request.Context(), q.ID); err != nil {
		if errors.Is(err, model.ErrQueueNotFound) {
			sendError(c, http.StatusConflict, "INVALID_STATE", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel queue: "+err.Error())
		return
	}
	c.Status(http.StatusAccepted)
}

// CreateTask handles POST /api/tasks - creates a task a queue can link to.
func (h *QueueHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	task := &model.Task{UserID: getUserID(c), Title: req.Title}
	if err := h.repo.CreateTask(c.Request.Context(), task); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create task: "+err.Error())
		return
	}
	c.JSON(http.StatusCreated, task)
}

// GetTask handles GET /api/tasks/:id.
func (h *QueueHandler) GetTask(c *gin.Context) {
	task, err := h.repo.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			sendError(c, http.StatusNotFound, "TASK_NOT_FOUND", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get task: "+err.Error())
		return
	}
	if task.UserID != getUserID(c) {
		sendError(c, http.StatusForbidden, "FORBIDDEN", "Access to task denied")
		return
	}
	c.JSON(http.StatusOK, task)
}

// findOwned resolves the :id param to a queue owned by the caller, writing
// the error response itself when that fails.
func (h *QueueHandler) findOwned(c *gin.Context) (*model.Queue, bool) {
	queueID := c.Param("id")
	if queueID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Queue ID is required")
		return nil, false
	}

	q, err := h.repo.GetQueue(c.Request.Context(), queueID)
	if err != nil {
		if errors.Is(err, model.ErrQueueNotFound) {
			sendError(c, http.StatusNotFound, "QUEUE_NOT_FOUND", "Queue "+queueID+" not found")
			return nil, false
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get queue: "+err.Error())
		return nil, false
	}

	if q.UserID != getUserID(c) {
		sendError(c, http.StatusForbidden, "FORBIDDEN", "Access to queue denied")
		return nil, false
	}
	return q, true
}

// RegisterRoutes registers the queue handler routes on a Gin router group.
func (h *QueueHandler) RegisterRoutes(rg *gin.RouterGroup) {
	queues := rg.Group("/queues")
	{
		queues.POST("", h.Create)
		queues.GET("", h.List)
		queues.GET("/:id", h.Get)
		queues.POST("/:id/start", h.Start)
		queues.POST("/:id/cancel", h.Cancel)
	}

	tasks := rg.Group("/tasks")
	{
		tasks.POST("", h.CreateTask)
		tasks.GET("/:id", h.GetTask)
	}
}

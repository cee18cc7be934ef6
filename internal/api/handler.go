// Package api exposes playground sessions over HTTP and websockets.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"playground-engine/internal/engine"
	"playground-engine/internal/errors"
	"playground-engine/internal/history"
	"playground-engine/internal/logging"
	"playground-engine/internal/monitoring"
	"playground-engine/internal/session"
)

// Deps are the collaborators a Handler serves.
type Deps struct {
	Sessions *session.Manager
	// NewEngine builds the throwaway engine behind POST /execute.
	NewEngine func() *engine.Engine
	// History is optional.
	History      history.Store
	HistoryLimit int
	// Metrics is optional.
	Metrics *monitoring.Metrics
	Logger  *logging.Logger
}

// Handler implements the HTTP routes.
type Handler struct {
	sessions     *session.Manager
	newEngine    func() *engine.Engine
	history      history.Store
	historyLimit int
	metrics      *monitoring.Metrics
	logger       *logging.Logger
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 50
	}
	return &Handler{
		sessions:     deps.Sessions,
		newEngine:    deps.NewEngine,
		history:      deps.History,
		historyLimit: deps.HistoryLimit,
		metrics:      deps.Metrics,
		logger:       deps.Logger.Named("api"),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/languages", h.Languages)
	r.POST("/execute", h.ExecuteOnce)

	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.POST("/sessions/:id/execute", h.Execute)
	r.POST("/sessions/:id/run", h.RunSync)
	r.POST("/sessions/:id/stop", h.Stop)
	r.POST("/sessions/:id/clear", h.Clear)
	r.GET("/sessions/:id/output", h.Output)
	r.GET("/sessions/:id/output/download", h.DownloadOutput)

	r.GET("/ws/sessions/:id", h.StreamSession)

	if h.history != nil {
		r.GET("/history", h.ListHistory)
		r.GET("/history/:runId", h.GetHistory)
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.sessions.Len(),
		"time":     time.Now().UTC(),
	})
}

// Languages lists executable languages with their isolation capability.
func (h *Handler) Languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": h.newEngine().Languages()})
}

// executeRequest is the JSON body of execution endpoints.
type executeRequest struct {
	Language      string `json:"language" binding:"required"`
	Code          string `json:"code"`
	TimeoutMs     int64  `json:"timeoutMs" binding:"gte=0"`
	MemoryLimitMB int64  `json:"memoryLimitMb" binding:"gte=0"`
}

func (r executeRequest) toEngine() engine.Request {
	return engine.Request{
		Language:      r.Language,
		Source:        r.Code,
		Timeout:       time.Duration(r.TimeoutMs) * time.Millisecond,
		MemoryLimitMB: r.MemoryLimitMB,
	}
}

// runResponse carries a finished run.
type runResponse struct {
	RunID   string               `json:"runId"`
	Summary *engine.Summary      `json:"summary"`
	Events  []engine.OutputEvent `json:"events"`
}

func newRunResponse(run *engine.Run) runResponse {
	return runResponse{
		RunID:   run.ID,
		Summary: run.Summary(),
		Events:  run.Events(),
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrBusy):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	body := gin.H{"error": err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		body["hint"] = hints[0]
	}
	c.AbortWithStatusJSON(status, body)
}

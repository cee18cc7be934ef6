package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"playground-engine/internal/engine"
	"playground-engine/internal/session"
)

type sessionView struct {
	ID            string          `json:"id"`
	State         engine.State    `json:"state"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastActive    time.Time       `json:"lastActive"`
	Connections   int             `json:"connections"`
	RunID         string          `json:"runId,omitempty"`
	Summary       *engine.Summary `json:"summary,omitempty"`
	OutputLength  int             `json:"outputLength"`
	SessionStatus session.State   `json:"sessionStatus"`
}

func viewSession(s *session.Session) sessionView {
	v := sessionView{
		ID:            s.ID,
		State:         s.Engine.State(),
		CreatedAt:     s.CreatedAt,
		LastActive:    s.LastActive(),
		Connections:   s.ActiveWSCount(),
		SessionStatus: s.State(),
	}
	if run := s.Engine.Current(); run != nil {
		v.RunID = run.ID
		v.Summary = run.Summary()
		v.OutputLength = len(run.Events())
	}
	return v
}

// CreateSession starts a playground session.
func (h *Handler) CreateSession(c *gin.Context) {
	s, err := h.sessions.Create()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": s.ID})
}

// ListSessions lists live sessions.
func (h *Handler) ListSessions(c *gin.Context) {
	list := h.sessions.List()
	views := make([]sessionView, 0, len(list))
	for _, s := range list {
		views = append(views, viewSession(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// GetSession returns a session's state and last summary.
func (h *Handler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewSession(s))
}

// DeleteSession stops any running execution and removes the session.
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Remove(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Execute starts a run and returns immediately. Output is read from
// /output or streamed over the websocket.
func (h *Handler) Execute(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The run outlives this request.
	run, err := s.Engine.Execute(context.WithoutCancel(c.Request.Context()), req.toEngine())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": run.ID, "state": run.State()})
}

// RunSync executes and waits for the summary. Disconnecting stops the run.
func (h *Handler) RunSync(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.Engine.Execute(c.Request.Context(), req.toEngine())
	if err != nil {
		h.writeError(c, err)
		return
	}
	<-run.Done()
	c.JSON(http.StatusOK, newRunResponse(run))
}

// Stop cancels the running execution, if any.
func (h *Handler) Stop(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Engine.Stop()
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

// Clear discards output and summary. Rejected while running.
func (h *Handler) Clear(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Engine.Clear(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.Engine.State()})
}

// Output returns the current run's events.
func (h *Handler) Output(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	events := s.Engine.Output()
	if events == nil {
		events = []engine.OutputEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"state":   s.Engine.State(),
		"events":  events,
		"summary": s.Engine.Summary(),
	})
}

// DownloadOutput serves the current run's output as a text transcript.
func (h *Handler) DownloadOutput(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	name := "output.txt"
	if run := s.Engine.Current(); run != nil {
		name = "output-" + run.ID + ".txt"
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.String(http.StatusOK, engine.Transcript(s.Engine.Output()))
}

// ExecuteOnce runs on a fresh engine that is discarded afterwards.
func (h *Handler) ExecuteOnce(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.newEngine().Execute(c.Request.Context(), req.toEngine())
	if err != nil {
		h.writeError(c, err)
		return
	}
	<-run.Done()
	c.JSON(http.StatusOK, newRunResponse(run))
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return s, true
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"playground-engine/internal/history"
)

// ListHistory returns recent runs, newest first.
func (h *Handler) ListHistory(c *gin.Context) {
	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n < limit {
			limit = n
		}
	}

	records, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": records})
}

// GetHistory returns one recorded run.
func (h *Handler) GetHistory(c *gin.Context) {
	rec, err := h.history.Get(c.Request.Context(), c.Param("runId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rfalcfilho/disparazap/internal/store"
)

type HistoryHandler struct {
	Store *store.Store
}

func NewHistoryHandler(s *store.Store) *HistoryHandler {
	return &HistoryHandler{Store: s}
}

func (h *HistoryHandler) GetRuns(c *gin.Context) {
	runs, err := h.Store.ListRuns(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *HistoryHandler) GetRun(c *gin.Context) {
	run, err := h.Store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *HistoryHandler) GetMessages(c *gin.Context) {
	messages, err := h.Store.ListMessages(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, messages)
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		return 50
	}
	return n
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hup-social/connect/internal/history"
)

// GetSession returns the record for one random-connect session, live or
// ended.
func (a *API) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	record, err := a.History.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read session"})
		return
	}

	c.JSON(http.StatusOK, record)
}

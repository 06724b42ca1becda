package handlers

import (
	"net/http"
	"strconv"

	"knoweasy/middleware"
	"knoweasy/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps domain errors to status codes. Anything without a kind
// is an internal failure and its message is not exposed.
func respondError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindInvalidState, services.KindConflict:
		status = http.StatusConflict
	case services.KindInvalidInput:
		status = http.StatusBadRequest
	case services.KindForbidden:
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		requestLogger(c).WithError(err).Error("Request failed")
		c.JSON(status, gin.H{"ok": false, "error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"ok": false, "error": err.Error(), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": msg, "kind": services.KindInvalidInput})
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "Invalid "+param)
		return 0, false
	}
	return uint(id), true
}

func currentUserID(c *gin.Context) uint {
	return c.GetUint(middleware.ContextUserID)
}

func requestLogger(c *gin.Context) *logrus.Entry {
	if v, ok := c.Get(middleware.ContextLogger); ok {
		if entry, ok := v.(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

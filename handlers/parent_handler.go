package handlers

import (
	"net/http"
	"strconv"

	"knoweasy/services"

	"github.com/gin-gonic/gin"
)

type ParentHandler struct {
	resultService *services.ResultService
}

func NewParentHandler(resultService *services.ResultService) *ParentHandler {
	return &ParentHandler{resultService: resultService}
}

func (h *ParentHandler) Summary(c *gin.Context) {
	studentID, ok := studentParam(c)
	if !ok {
		return
	}

	summary, err := h.resultService.ParentSummary(c.Request.Context(), currentUserID(c), studentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "summary": summary})
}

func (h *ParentHandler) History(c *gin.Context) {
	studentID, ok := studentParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	items, err := h.resultService.ParentHistory(c.Request.Context(), currentUserID(c), studentID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}

func studentParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Query("student_id"), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "student_id is required")
		return 0, false
	}
	return uint(id), true
}

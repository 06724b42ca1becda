package handlers

import (
	"net/http"
	"strconv"
	"time"

	"knoweasy/models"
	"knoweasy/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type AttemptHandler struct {
	attemptService *services.AttemptService
	resultService  *services.ResultService
	hub            *services.Hub
	upgrader       websocket.Upgrader
	now            func() time.Time
}

func NewAttemptHandler(attemptService *services.AttemptService, resultService *services.ResultService, hub *services.Hub, checkOrigin func(r *http.Request) bool) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		resultService:  resultService,
		hub:            hub,
		upgrader:       websocket.Upgrader{CheckOrigin: checkOrigin},
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type RecordAnswerRequest struct {
	QuestionID     uint    `json:"question_id" binding:"required"`
	SelectedOption *string `json:"selected_option"`
}

type SubmitAttemptRequest struct {
	Answers []services.AnswerInput `json:"answers" binding:"dive"`
}

func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	attempt, err := h.attemptService.StartAttempt(c.Request.Context(), currentUserID(c), testID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "attempt": attempt})
}

func (h *AttemptHandler) RecordAnswer(c *gin.Context) {
	attempt, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	var req RecordAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	answer, err := h.attemptService.RecordAnswer(c.Request.Context(), attempt.ID, req.QuestionID, req.SelectedOption)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "answer": answer})
}

// SubmitAttempt finalizes the attempt. The body is optional; when it
// carries answers they are recorded first.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attempt, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	var req SubmitAttemptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	var (
		result *services.AttemptResult
		err    error
	)
	if len(req.Answers) > 0 {
		result, err = h.attemptService.SubmitWithAnswers(c.Request.Context(), attempt.ID, h.now(), req.Answers)
	} else {
		result, err = h.attemptService.SubmitAttempt(c.Request.Context(), attempt.ID, h.now())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

func (h *AttemptHandler) ListHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	items, err := h.resultService.ListHistory(c.Request.Context(), currentUserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}

func (h *AttemptHandler) GetReview(c *gin.Context) {
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	review, err := h.resultService.GetAttemptReview(c.Request.Context(), currentUserID(c), attemptID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "attempt": review})
}

// Watch upgrades to a websocket that streams events of one attempt to its
// owner.
func (h *AttemptHandler) Watch(c *gin.Context) {
	attempt, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		requestLogger(c).WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	h.hub.RegisterClient(conn, attempt.ID, attempt.UserID)
}

// ownedAttempt loads the attempt named by the id parameter. Attempts of
// other users are reported as not found.
func (h *AttemptHandler) ownedAttempt(c *gin.Context) (*models.Attempt, bool) {
	attemptID, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}

	attempt, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID)
	if err == nil && attempt.UserID != currentUserID(c) {
		err = services.ErrNotFound
	}
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return attempt, true
}

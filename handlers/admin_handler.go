package handlers

import (
	"net/http"
	"time"

	"knoweasy/services"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	testService    *services.TestService
	attemptService *services.AttemptService
	now            func() time.Time
}

func NewAdminHandler(testService *services.TestService, attemptService *services.AttemptService) *AdminHandler {
	return &AdminHandler{
		testService:    testService,
		attemptService: attemptService,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (h *AdminHandler) CreateTest(c *gin.Context) {
	var req services.CreateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	test, err := h.testService.CreateTest(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "test": test})
}

func (h *AdminHandler) GetTest(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	test, err := h.testService.GetTest(c.Request.Context(), testID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "test": test})
}

func (h *AdminHandler) AddQuestion(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	question, err := h.testService.AddQuestion(c.Request.Context(), testID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "question": question})
}

func (h *AdminHandler) CorrectQuestion(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	question, err := h.testService.CorrectQuestion(c.Request.Context(), testID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "question": question})
}

func (h *AdminHandler) PublishTest(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	test, err := h.testService.PublishTest(c.Request.Context(), testID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "test": test})
}

func (h *AdminHandler) DeleteTest(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.testService.DeleteTest(c.Request.Context(), testID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AdminHandler) RecomputeAttempt(c *gin.Context) {
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	result, err := h.attemptService.RecomputeAttempt(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

func (h *AdminHandler) ExpireStaleAttempts(c *gin.Context) {
	expired, err := h.attemptService.ExpireStaleAttempts(c.Request.Context(), h.now())
	if err != nil {
		requestLogger(c).WithError(err).WithField("expired", expired).Warn("Sweep finished with errors")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Some attempts could not be expired", "expired": expired})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "expired": expired})
}

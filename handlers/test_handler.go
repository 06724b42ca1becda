package handlers

import (
	"net/http"
	"strconv"

	"knoweasy/services"

	"github.com/gin-gonic/gin"
)

type TestHandler struct {
	testService *services.TestService
}

func NewTestHandler(testService *services.TestService) *TestHandler {
	return &TestHandler{testService: testService}
}

func (h *TestHandler) ListCatalog(c *gin.Context) {
	filter := services.CatalogFilter{
		Board:   c.Query("board"),
		Subject: c.Query("subject"),
		Chapter: c.Query("chapter"),
	}
	if raw := c.Query("cls"); raw != "" {
		cls, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "Invalid cls")
			return
		}
		filter.Cls = &cls
	}

	items, err := h.testService.ListCatalog(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}

func (h *TestHandler) GetTest(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	test, err := h.testService.GetPublishedTest(c.Request.Context(), testID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "test": test})
}

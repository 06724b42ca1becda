package routes

import (
	"net/http"

	"knoweasy/handlers"
	"knoweasy/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Tests    *handlers.TestHandler
	Attempts *handlers.AttemptHandler
	Parents  *handlers.ParentHandler
	Admin    *handlers.AdminHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, gatherer prometheus.Gatherer, jwtSecret string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	auth := middleware.AuthMiddleware(jwtSecret)

	api := router.Group("/api")
	api.Use(auth)
	{
		student := api.Group("/")
		student.Use(middleware.RequireRole(middleware.RoleStudent))
		{
			student.GET("/tests", h.Tests.ListCatalog)
			student.GET("/tests/:id", h.Tests.GetTest)
			student.POST("/tests/:id/start", h.Attempts.StartAttempt)
			student.PUT("/attempts/:id/answers", h.Attempts.RecordAnswer)
			student.POST("/attempts/:id/submit", h.Attempts.SubmitAttempt)
			student.GET("/me/history", h.Attempts.ListHistory)
			student.GET("/me/attempts/:id", h.Attempts.GetReview)
		}

		parent := api.Group("/parent")
		parent.Use(middleware.RequireRole(middleware.RoleParent))
		{
			parent.GET("/tests/summary", h.Parents.Summary)
			parent.GET("/tests/history", h.Parents.History)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.POST("/tests", h.Admin.CreateTest)
			admin.GET("/tests/:id", h.Admin.GetTest)
			admin.POST("/tests/:id/questions", h.Admin.AddQuestion)
			admin.PUT("/tests/:id/questions", h.Admin.CorrectQuestion)
			admin.POST("/tests/:id/publish", h.Admin.PublishTest)
			admin.DELETE("/tests/:id", h.Admin.DeleteTest)
			admin.POST("/attempts/:id/recompute", h.Admin.RecomputeAttempt)
			admin.POST("/attempts/expire", h.Admin.ExpireStaleAttempts)
		}
	}

	// The token travels as a query parameter because browsers cannot set
	// headers on websocket upgrades.
	router.GET("/ws/attempts/:id", auth, middleware.RequireRole(middleware.RoleStudent), h.Attempts.Watch)
}

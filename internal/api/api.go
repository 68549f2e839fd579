package api

import (
	"net/http"

	"calling-agent/internal/dashboard"
	dialogueHandler "calling-agent/internal/dialogue/handler"

	"github.com/gin-gonic/gin"
)

type API struct {
	router           *gin.RouterGroup
	dialogueHandler  dialogueHandler.Handler
	dashboardHandler dashboard.Handler
}

func New(router *gin.RouterGroup, dialogue dialogueHandler.Handler, board dashboard.Handler) API {
	return API{
		router:           router,
		dialogueHandler:  dialogue,
		dashboardHandler: board,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()

	// Telephony webhooks. All responses are TwiML documents.
	a.router.POST("/voice", a.dialogueHandler.HandleVoice)
	a.router.POST("/recording", a.dialogueHandler.HandleRecording)
	a.router.POST("/status", a.dialogueHandler.HandleStatus)

	// Outbound call trigger.
	a.router.GET("/call", a.dialogueHandler.HandleStartCall)

	// Dashboard pages and live feed.
	a.router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", nil)
	})
	a.router.GET("/summary", a.dashboardHandler.HandleSummary)
	a.router.GET("/summary/live", a.dashboardHandler.HandleLive)

	apiGroup := a.router.Group("/api")
	{
		apiGroup.GET("/calls", a.dashboardHandler.HandleListCalls)
		apiGroup.GET("/calls/:sid/turns", a.dashboardHandler.HandleListTurns)
	}
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}

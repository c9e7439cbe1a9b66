package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/inbox"
	"github.com/kandev/agent-orchestrator/internal/terminal"
)

// NewRouter builds the gin engine exposing the Terminal Service's HTTP
// surface, per spec.md §6.
func NewRouter(svc *terminal.Service, ib *inbox.Service, corsOrigins []string, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(Recovery(log), RequestLogger(log), CORS(corsOrigins))

	handler := NewHandler(svc, ib, log)

	router.POST("/sessions", handler.CreateSession)
	router.POST("/sessions/:session/terminals", handler.CreateTerminalInSession)
	router.GET("/sessions/:session", handler.GetSession)

	router.GET("/terminals/by-delegating-agent/:sessionID", handler.GetTerminalByDelegatingAgent)

	terminals := router.Group("/terminals/:id")
	{
		terminals.GET("", handler.GetTerminal)
		terminals.GET("/working-directory", handler.GetWorkingDirectory)
		terminals.GET("/output", handler.GetOutput)
		terminals.POST("/input", handler.SendInput)
		terminals.POST("/exit", handler.ExitTerminal)
		terminals.POST("/inbox/messages", handler.SendInboxMessage)
		terminals.GET("/inbox/messages", handler.ListInboxMessages)
	}

	return router
}

// Package api implements the HTTP surface the Delegation Tools (and any
// external caller) use to drive the Terminal Service, mirroring the
// teacher's gin-based orchestrator API package.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/inbox"
	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"github.com/kandev/agent-orchestrator/internal/terminal"
)

// maxInboxListLimit enforces spec.md §8's boundary: limit=150 on inbox
// listing is rejected, limit<=100 is accepted.
const maxInboxListLimit = 100

// Handler holds the Terminal Service and Inbox used by every route.
type Handler struct {
	svc    *terminal.Service
	inbox  *inbox.Service
	logger *logger.Logger
}

func NewHandler(svc *terminal.Service, ib *inbox.Service, log *logger.Logger) *Handler {
	return &Handler{svc: svc, inbox: ib, logger: log.WithFields(zap.String("component", "http-api"))}
}

func isValidProvider(p model.ProviderKind) bool {
	switch p {
	case model.ProviderClaude, model.ProviderCodex, model.ProviderQCLI, model.ProviderOpenCode:
		return true
	default:
		return false
	}
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Provider          model.ProviderKind `json:"provider" binding:"required"`
	AgentProfile      string             `json:"agent_profile" binding:"required"`
	SessionName       string             `json:"session_name"`
	WorkingDirectory  string             `json:"working_directory"`
	DelegatingAgentID string             `json:"delegating_agent_id"`
}

// CreateSession handles POST /sessions: always allocates a fresh
// multiplexer session.
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, orcherrors.InvalidArgument("invalid request body: %v", err))
		return
	}
	if !isValidProvider(req.Provider) {
		writeError(c, orcherrors.InvalidArgument("unknown provider %q", req.Provider))
		return
	}

	term, err := h.svc.CreateTerminal(c.Request.Context(), terminal.CreateOptions{
		Provider:          req.Provider,
		AgentProfile:      req.AgentProfile,
		Session:           req.SessionName,
		NewSession:        true,
		Cwd:               req.WorkingDirectory,
		DelegatingAgentID: req.DelegatingAgentID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, term)
}

// CreateTerminalRequest is the body of POST /sessions/:session/terminals.
type CreateTerminalRequest struct {
	Provider         model.ProviderKind `json:"provider" binding:"required"`
	AgentProfile     string             `json:"agent_profile" binding:"required"`
	WorkingDirectory string             `json:"working_directory"`
}

// CreateTerminalInSession handles POST /sessions/:session/terminals: adds a
// window to an existing multiplexer session.
func (h *Handler) CreateTerminalInSession(c *gin.Context) {
	session := c.Param("session")
	var req CreateTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, orcherrors.InvalidArgument("invalid request body: %v", err))
		return
	}
	if !isValidProvider(req.Provider) {
		writeError(c, orcherrors.InvalidArgument("unknown provider %q", req.Provider))
		return
	}

	term, err := h.svc.CreateTerminal(c.Request.Context(), terminal.CreateOptions{
		Provider:     req.Provider,
		AgentProfile: req.AgentProfile,
		Session:      session,
		Cwd:          req.WorkingDirectory,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, term)
}

// GetSession handles GET /sessions/:session: 200 if any terminal belongs to
// the session, 404 otherwise.
func (h *Handler) GetSession(c *gin.Context) {
	session := c.Param("session")
	workers, err := h.svc.ListWorkers(c.Request.Context(), session)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(workers) == 0 {
		writeError(c, orcherrors.NotFound("session %q not found", session))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "terminals": workers})
}

// GetTerminal handles GET /terminals/:id.
func (h *Handler) GetTerminal(c *gin.Context) {
	term, err := h.svc.GetTerminal(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, term)
}

// GetTerminalByDelegatingAgent handles GET /terminals/by-delegating-agent/:sessionID.
func (h *Handler) GetTerminalByDelegatingAgent(c *gin.Context) {
	term, err := h.svc.GetTerminalByDelegatingAgentID(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, term)
}

// GetWorkingDirectory handles GET /terminals/:id/working-directory.
func (h *Handler) GetWorkingDirectory(c *gin.Context) {
	cwd, err := h.svc.GetWorkingDirectory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if cwd == "" {
		c.JSON(http.StatusOK, gin.H{"working_directory": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"working_directory": cwd})
}

// GetOutput handles GET /terminals/:id/output?mode=full|last|tail&tail_lines=N.
func (h *Handler) GetOutput(c *gin.Context) {
	mode := model.OutputMode(c.DefaultQuery("mode", string(model.OutputFull)))
	switch mode {
	case model.OutputFull, model.OutputLast, model.OutputTail:
	default:
		writeError(c, orcherrors.InvalidArgument("unknown output mode %q", mode))
		return
	}

	tailLines := 0
	if raw := c.Query("tail_lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, orcherrors.InvalidArgument("tail_lines must be an integer"))
			return
		}
		tailLines = n
	}

	output, err := h.svc.GetOutput(c.Request.Context(), c.Param("id"), mode, tailLines)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": output})
}

// SendInputRequest is the body of POST /terminals/:id/input.
type SendInputRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendInput handles POST /terminals/:id/input.
func (h *Handler) SendInput(c *gin.Context) {
	var req SendInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, orcherrors.InvalidArgument("invalid request body: %v", err))
		return
	}
	if err := h.svc.SendInput(c.Request.Context(), c.Param("id"), req.Message); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ExitTerminal handles POST /terminals/:id/exit.
func (h *Handler) ExitTerminal(c *gin.Context) {
	if err := h.svc.Exit(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SendInboxMessage handles POST /terminals/:id/inbox/messages?sender_id&message.
func (h *Handler) SendInboxMessage(c *gin.Context) {
	receiverID := c.Param("id")
	senderID := c.Query("sender_id")
	message := c.Query("message")
	if senderID == "" || message == "" {
		writeError(c, orcherrors.InvalidArgument("sender_id and message are required"))
		return
	}

	id, err := h.inbox.Send(c.Request.Context(), senderID, receiverID, message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.InboxMessage{
		ID: id, SenderID: senderID, ReceiverID: receiverID, Message: message, Status: model.InboxPending,
	})
}

// ListInboxMessages handles GET /terminals/:id/inbox/messages?status&limit.
func (h *Handler) ListInboxMessages(c *gin.Context) {
	receiverID := c.Param("id")
	status := model.InboxStatus(c.DefaultQuery("status", string(model.InboxPending)))
	switch status {
	case model.InboxPending, model.InboxDelivered, model.InboxFailed:
	default:
		writeError(c, orcherrors.InvalidArgument("unknown inbox status %q", status))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, orcherrors.InvalidArgument("limit must be an integer"))
			return
		}
		limit = n
	}
	if limit > maxInboxListLimit {
		writeError(c, orcherrors.InvalidArgument("limit must be <= %d", maxInboxListLimit))
		return
	}

	messages, err := h.inbox.List(c.Request.Context(), receiverID, status, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "total": len(messages)})
}

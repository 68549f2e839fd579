package dashboard

import (
	"context"
	"errors"
	"net/http"

	"calling-agent/internal/apierrors"
	"calling-agent/internal/observability"
	"calling-agent/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const sessionListLimit = 50

// HistoryStore defines the store operations the dashboard reads.
type HistoryStore interface {
	ListCallSessions(ctx context.Context, limit int) ([]store.CallSession, error)
	GetCallSession(ctx context.Context, callSID string) (store.CallSession, error)
	ListTurns(ctx context.Context, callSID string) ([]store.Turn, error)
}

type Handler struct {
	store  HistoryStore
	hub    *Hub
	logger *observability.Logger
}

func New(historyStore HistoryStore, hub *Hub, logger *observability.Logger) Handler {
	return Handler{
		store:  historyStore,
		hub:    hub,
		logger: logger,
	}
}

// upgrader is a shared WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Add proper origin validation for production
		return true
	},
}

// sessionView is one call with its turns, for the summary template.
type sessionView struct {
	Session store.CallSession
	Turns   []store.Turn
}

// HandleSummary renders the call history page.
func (h *Handler) HandleSummary(c *gin.Context) {
	ctx := c.Request.Context()

	sessions, err := h.store.ListCallSessions(ctx, sessionListLimit)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		turns, err := h.store.ListTurns(ctx, session.CallSID)
		if err != nil {
			h.logger.Error(ctx, "failed to load turns for summary", err)
			turns = nil
		}
		views = append(views, sessionView{Session: session, Turns: turns})
	}

	c.HTML(http.StatusOK, "summary.html", gin.H{"Calls": views})
}

// HandleLive upgrades to WebSocket and streams call events until the client
// disconnects.
func (h *Handler) HandleLive(c *gin.Context) {
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "WebSocket upgrade failed", err)
		return
	}

	h.hub.Register(conn)
	h.logger.Info(ctx, "live feed subscriber connected")

	// The read loop exists only to detect the close.
	go func() {
		defer h.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// HandleListCalls returns call sessions as JSON.
func (h *Handler) HandleListCalls(c *gin.Context) {
	sessions, err := h.store.ListCallSessions(c.Request.Context(), sessionListLimit)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": sessions})
}

// HandleListTurns returns one call's turns as JSON.
func (h *Handler) HandleListTurns(c *gin.Context) {
	ctx := c.Request.Context()
	callSID := c.Param("sid")

	if _, err := h.store.GetCallSession(ctx, callSID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.NotFound(c, "call not found")
			return
		}
		apierrors.InternalError(c, err)
		return
	}

	turns, err := h.store.ListTurns(ctx, callSID)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_sid": callSID, "turns": turns})
}

package handler

import (
	"context"
	"net/http"
	"strings"

	"calling-agent/internal/apierrors"
	"calling-agent/internal/dialogue/processor"
	"calling-agent/internal/dialogue/twiml"
	"calling-agent/internal/observability"

	"github.com/gin-gonic/gin"
)

// DialogueProcessor is the session controller surface the webhook handlers
// drive.
type DialogueProcessor interface {
	HandleCallStarted(ctx context.Context, callSID, to, from string) processor.Directive
	HandleTurn(ctx context.Context, req processor.TurnRequest) processor.Directive
	Close(ctx context.Context, callSID, callStatus string)
}

// CallStarter places outbound calls.
type CallStarter interface {
	StartCall(ctx context.Context, to, answerURL, statusURL string) (string, error)
}

type Config struct {
	PublicURL       string
	TargetNumber    string
	RecordMaxLength int
	RecordTimeout   int
}

type Handler struct {
	processor DialogueProcessor
	calls     CallStarter
	config    Config
	logger    *observability.Logger
}

func New(dialogueProcessor DialogueProcessor, calls CallStarter, config Config, logger *observability.Logger) Handler {
	return Handler{
		processor: dialogueProcessor,
		calls:     calls,
		config:    config,
		logger:    logger,
	}
}

func (h *Handler) twimlConfig() twiml.Config {
	return twiml.Config{
		RecordAction: "/recording",
		MaxLengthSec: h.config.RecordMaxLength,
		TimeoutSec:   h.config.RecordTimeout,
	}
}

// fallbackDocument is spoken if directive rendering itself fails; the call is
// still answered rather than dropped.
const fallbackDocument = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<Response><Say voice="alice">Sorry, something went wrong. Goodbye.</Say><Hangup/></Response>`

func (h *Handler) respondTwiML(c *gin.Context, d processor.Directive) {
	document, err := twiml.Build(d, h.twimlConfig())
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to render directive", err)
		document = fallbackDocument
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, document)
}

// HandleVoice answers the "call started" webhook with the greeting and the
// first record instruction.
func (h *Handler) HandleVoice(c *gin.Context) {
	ctx := c.Request.Context()

	callSID := c.PostForm("CallSid")
	if callSID == "" {
		apierrors.BadRequest(c, "MISSING_CALL_SID", "CallSid is required")
		return
	}

	d := h.processor.HandleCallStarted(ctx, callSID, c.PostForm("To"), c.PostForm("From"))
	h.respondTwiML(c, d)
}

// HandleRecording processes the "recording available" webhook: one full
// conversation turn. The only error response here is an unusable payload;
// every pipeline failure inside the processor degrades into a spoken
// directive instead.
func (h *Handler) HandleRecording(c *gin.Context) {
	ctx := c.Request.Context()

	callSID := c.PostForm("CallSid")
	recordingURL := c.PostForm("RecordingUrl")
	if callSID == "" || recordingURL == "" {
		apierrors.BadRequest(c, "MISSING_RECORDING_FIELDS", "CallSid and RecordingUrl are required")
		return
	}

	recordingSID := c.PostForm("RecordingSid")
	if recordingSID == "" {
		// Older callbacks omit the SID; the URL's last segment serves as the
		// stable identity for dedup.
		parts := strings.Split(strings.TrimSuffix(recordingURL, "/"), "/")
		recordingSID = parts[len(parts)-1]
	}

	d := h.processor.HandleTurn(ctx, processor.TurnRequest{
		CallSID:      callSID,
		RecordingSID: recordingSID,
		RecordingURL: recordingURL,
		CallStatus:   c.PostForm("CallStatus"),
		To:           c.PostForm("To"),
		From:         c.PostForm("From"),
	})
	h.respondTwiML(c, d)
}

// HandleStatus receives call status callbacks and closes the session on
// terminal states.
func (h *Handler) HandleStatus(c *gin.Context) {
	ctx := c.Request.Context()

	callSID := c.PostForm("CallSid")
	if callSID == "" {
		apierrors.BadRequest(c, "MISSING_CALL_SID", "CallSid is required")
		return
	}

	status := c.PostForm("CallStatus")
	switch status {
	case processor.CallStatusCompleted, processor.CallStatusBusy, processor.CallStatusFailed,
		processor.CallStatusNoAnswer, processor.CallStatusCanceled:
		h.processor.Close(ctx, callSID, status)
	}
	c.Status(http.StatusNoContent)
}

// HandleStartCall is the operator-triggered entrypoint that places the
// outbound call.
func (h *Handler) HandleStartCall(c *gin.Context) {
	ctx := c.Request.Context()

	to := c.Query("to")
	if to == "" {
		to = h.config.TargetNumber
	}
	if to == "" {
		apierrors.BadRequest(c, "MISSING_TARGET", "no destination number configured")
		return
	}

	base := strings.TrimSuffix(h.config.PublicURL, "/")
	callSID, err := h.calls.StartCall(ctx, to, base+"/voice", base+"/status")
	if err != nil {
		apierrors.ServiceUnavailable(c, "CALL_START_FAILED", "failed to start call", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Call started", "call_sid": callSID})
}

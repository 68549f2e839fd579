package processor

import (
	"context"

	"calling-agent/internal/store"
)

// RecordingFetcher retrieves recorded audio from the telephony platform.
type RecordingFetcher interface {
	DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error)
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// DialogueContext is the ordered prior turns for a call plus the new caller
// utterance. It is derived from the store on every webhook, never cached
// across requests.
type DialogueContext struct {
	CallSID   string
	Turns     []store.Turn
	Utterance string
}

// ReplyGenerator produces the agent's next reply from the dialogue context.
// Implementations may be a single responder or a multi-step pipeline; the
// variant is chosen at construction time.
type ReplyGenerator interface {
	Generate(ctx context.Context, dctx DialogueContext) (string, error)
}

// Synthesizer renders reply text to a hosted audio asset and returns its
// public URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, callSID string, sequence int, text string) (string, error)
}

// ConversationStore is the durable owner of call sessions and turns.
type ConversationStore interface {
	EnsureCallSession(ctx context.Context, callSID, to, from string) (store.CallSession, error)
	UpdateCallSessionStatus(ctx context.Context, callSID, status string) error
	ListTurns(ctx context.Context, callSID string) ([]store.Turn, error)
	FindTurnByRecording(ctx context.Context, callSID, recordingSID string) (store.Turn, error)
	AppendTurn(ctx context.Context, params store.AppendTurnParams) (store.Turn, bool, error)
}

// EventDispatcher publishes call lifecycle events. All methods are
// best-effort and must never block the directive path.
type EventDispatcher interface {
	DispatchCallStarted(ctx context.Context, callSID, to string)
	DispatchTurnCompleted(ctx context.Context, turn store.Turn)
	DispatchCallEnded(ctx context.Context, callSID, status string)
}

// JobSubmitter accepts background work without blocking. A false return
// means the queue is full and the job was dropped.
type JobSubmitter interface {
	TrySubmit(job func(ctx context.Context) error) bool
}

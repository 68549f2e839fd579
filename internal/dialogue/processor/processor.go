package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calling-agent/internal/observability"
	"calling-agent/internal/store"
)

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrGenerationFailed    = errors.New("reply generation failed")
	ErrSynthesisFailed     = errors.New("speech synthesis failed")
)

// Config holds the controller's policy knobs.
type Config struct {
	Greeting      string
	FallbackReply string
	ApologyLine   string
	MaxTurns      int

	// TurnTimeout caps the whole pipeline for one webhook. The stage
	// timeouts are individually generous, so without a shared deadline
	// their sum can exceed the platform's webhook window and the platform
	// drops the call before the directive arrives.
	TurnTimeout time.Duration

	FetchTimeout      time.Duration
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration
}

// Processor is the call session controller. It owns the turn loop: per
// webhook it reconstructs the dialogue state from the store, runs the
// fetch -> transcribe -> generate -> synthesize pipeline under per-stage
// timeouts, and always produces a valid directive. No pipeline failure
// escapes as an error; each stage degrades according to its policy.
type Processor struct {
	fetcher     RecordingFetcher
	transcriber Transcriber
	generator   ReplyGenerator
	synthesizer Synthesizer
	store       ConversationStore
	events      EventDispatcher
	jobs        JobSubmitter
	config      Config
	logger      *observability.Logger
}

func New(
	fetcher RecordingFetcher,
	transcriber Transcriber,
	generator ReplyGenerator,
	synthesizer Synthesizer,
	conversationStore ConversationStore,
	events EventDispatcher,
	jobs JobSubmitter,
	config Config,
	logger *observability.Logger,
) *Processor {
	return &Processor{
		fetcher:     fetcher,
		transcriber: transcriber,
		generator:   generator,
		synthesizer: synthesizer,
		store:       conversationStore,
		events:      events,
		jobs:        jobs,
		config:      config,
		logger:      logger,
	}
}

// TurnRequest is the parsed "recording available" webhook payload.
type TurnRequest struct {
	CallSID      string
	RecordingSID string
	RecordingURL string
	CallStatus   string
	To           string
	From         string
}

// Terminal call statuses as reported by the platform.
const (
	CallStatusCompleted = "completed"
	CallStatusBusy      = "busy"
	CallStatusFailed    = "failed"
	CallStatusNoAnswer  = "no-answer"
	CallStatusCanceled  = "canceled"
)

func isTerminalStatus(status string) bool {
	switch status {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	}
	return false
}

// HandleCallStarted creates the call session and returns the greeting
// directive. Store failure is logged and does not block the greeting: the
// session row is recreated by the upsert on the first turn webhook.
func (p *Processor) HandleCallStarted(ctx context.Context, callSID, to, from string) Directive {
	ctx = observability.WithFields(ctx, observability.Field{Key: "call_sid", Value: callSID})

	if _, err := p.store.EnsureCallSession(ctx, callSID, to, from); err != nil {
		p.logger.Error(ctx, "failed to create call session, continuing call", err)
	}
	p.events.DispatchCallStarted(ctx, callSID, to)

	return Directive{SpeakText: p.config.Greeting, Next: NextActionRecord}
}

// HandleTurn drives one conversation turn. The returned directive is always
// valid: every pipeline failure degrades (retry, empty utterance, fallback
// reply, text-only speech) instead of propagating.
func (p *Processor) HandleTurn(ctx context.Context, req TurnRequest) Directive {
	ctx = observability.WithFields(ctx, observability.Field{Key: "call_sid", Value: req.CallSID})

	if isTerminalStatus(req.CallStatus) {
		p.Close(ctx, req.CallSID, req.CallStatus)
		return Directive{Next: NextActionEnd}
	}

	// The per-stage contexts below derive from this deadline, so slow
	// stages share one budget instead of stacking their timeouts.
	if p.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TurnTimeout)
		defer cancel()
	}

	if _, err := p.store.EnsureCallSession(ctx, req.CallSID, req.To, req.From); err != nil {
		p.logger.Error(ctx, "failed to ensure call session, continuing call", err)
	}

	// A replayed webhook for an already-processed recording re-speaks the
	// stored reply instead of generating a divergent one.
	if existing, err := p.store.FindTurnByRecording(ctx, req.CallSID, req.RecordingSID); err == nil {
		p.logger.Info(ctx, fmt.Sprintf("duplicate webhook for recording %s, replaying turn %d",
			req.RecordingSID, existing.SequenceNumber))
		return Directive{SpeakText: existing.AgentText, Next: p.nextAction(existing.SequenceNumber)}
	}

	audio, err := p.fetchRecording(ctx, req.RecordingURL)
	if err != nil {
		// The call stays open: apologize and re-open recording rather than
		// dropping the caller over a fetch failure.
		p.logger.Error(ctx, "recording fetch exhausted retries, apologizing", err)
		return Directive{SpeakText: p.config.ApologyLine, Next: NextActionRecord}
	}

	utterance := p.transcribe(ctx, audio)

	turns, err := p.store.ListTurns(ctx, req.CallSID)
	if err != nil {
		// Degraded context is better than a dead call.
		p.logger.Error(ctx, "failed to load dialogue context, proceeding without history", err)
		turns = nil
	}
	sequence := len(turns) + 1
	ctx = observability.WithFields(ctx, observability.Field{Key: "sequence_number", Value: sequence})

	reply := p.generateReply(ctx, DialogueContext{
		CallSID:   req.CallSID,
		Turns:     turns,
		Utterance: utterance,
	})

	audioURL := p.synthesize(ctx, req.CallSID, sequence, reply)

	p.dispatchPersist(ctx, req, utterance, reply)

	return Directive{SpeakText: reply, AudioURL: audioURL, Next: p.nextAction(sequence)}
}

// Close marks the call ended. Called on terminal status callbacks.
func (p *Processor) Close(ctx context.Context, callSID, callStatus string) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "call_sid", Value: callSID})

	status := store.CallStatusClosed
	if callStatus == CallStatusFailed {
		status = store.CallStatusFailed
	}
	if err := p.store.UpdateCallSessionStatus(ctx, callSID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Error(ctx, "failed to close call session", err)
	}
	p.events.DispatchCallEnded(ctx, callSID, callStatus)
}

// nextAction ends the call once the safety limit is reached so a runaway
// conversation cannot hold the line open indefinitely.
func (p *Processor) nextAction(sequence int) NextAction {
	if p.config.MaxTurns > 0 && sequence >= p.config.MaxTurns {
		return NextActionEnd
	}
	return NextActionRecord
}

func (p *Processor) fetchRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()
	return p.fetcher.DownloadRecording(fetchCtx, recordingURL)
}

// transcribe returns the utterance text, or empty on any failure. An empty
// utterance is a normal input to reply generation, not an abort.
func (p *Processor) transcribe(ctx context.Context, audio []byte) string {
	transcribeCtx, cancel := context.WithTimeout(ctx, p.config.TranscribeTimeout)
	defer cancel()

	text, err := p.transcriber.Transcribe(transcribeCtx, audio)
	if err != nil {
		p.logger.Error(ctx, "transcription failed, treating utterance as empty",
			fmt.Errorf("%w: %v", ErrTranscriptionFailed, err))
		return ""
	}
	return text
}

// generateReply always returns non-empty text: on any generation failure the
// configured fallback reply is substituted so the conversation loop has
// something to speak.
func (p *Processor) generateReply(ctx context.Context, dctx DialogueContext) string {
	generateCtx, cancel := context.WithTimeout(ctx, p.config.GenerateTimeout)
	defer cancel()

	reply, err := p.generator.Generate(generateCtx, dctx)
	if err != nil {
		p.logger.Error(ctx, "reply generation failed, using fallback reply",
			fmt.Errorf("%w: %v", ErrGenerationFailed, err))
		return p.config.FallbackReply
	}
	if reply == "" {
		p.logger.Error(ctx, "reply generation returned empty text, using fallback reply", ErrGenerationFailed)
		return p.config.FallbackReply
	}
	return reply
}

// synthesize returns the asset URL for the rendered reply, or empty when
// synthesis fails; the directive then has the platform speak the text
// directly, so the reply is never lost.
func (p *Processor) synthesize(ctx context.Context, callSID string, sequence int, text string) string {
	synthCtx, cancel := context.WithTimeout(ctx, p.config.SynthesizeTimeout)
	defer cancel()

	audioURL, err := p.synthesizer.Synthesize(synthCtx, callSID, sequence, text)
	if err != nil {
		p.logger.Error(ctx, "synthesis failed, platform will speak the reply text",
			fmt.Errorf("%w: %v", ErrSynthesisFailed, err))
		return ""
	}
	return audioURL
}

// dispatchPersist hands the completed turn to the background pool so the
// directive is never delayed by bookkeeping. Delivery is at-least-once:
// duplicate writes are absorbed by the store's recording index, and a lost
// write costs history completeness, never call continuity.
func (p *Processor) dispatchPersist(ctx context.Context, req TurnRequest, utterance, reply string) {
	// Detached from the request lifetime: the HTTP response returns before
	// the append runs.
	persistCtx := context.WithoutCancel(ctx)
	submitted := p.jobs.TrySubmit(func(_ context.Context) error {
		turn, inserted, err := p.store.AppendTurn(persistCtx, store.AppendTurnParams{
			CallSID:      req.CallSID,
			RecordingSID: req.RecordingSID,
			RecordingURL: req.RecordingURL,
			CallerText:   utterance,
			AgentText:    reply,
		})
		if err != nil {
			return err
		}
		if inserted {
			p.events.DispatchTurnCompleted(persistCtx, turn)
		}
		return nil
	})
	if !submitted {
		p.logger.Warn(ctx, "persistence queue full, turn dropped from history")
	}
}

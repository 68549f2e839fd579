package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"calling-agent/internal/observability"
	"calling-agent/internal/store"
)

type fakeFetcher struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeFetcher) DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	f.calls++
	return f.audio, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f.text, f.err
}

type fakeGenerator struct {
	reply    string
	err      error
	lastDctx DialogueContext
}

func (f *fakeGenerator) Generate(ctx context.Context, dctx DialogueContext) (string, error) {
	f.lastDctx = dctx
	return f.reply, f.err
}

type fakeSynthesizer struct {
	url string
	err error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, callSID string, sequence int, text string) (string, error) {
	return f.url, f.err
}

// fakeStore keeps turns in memory and mimics the idempotent append.
type fakeStore struct {
	sessions     map[string]store.CallSession
	turns        []store.Turn
	statuses     map[string]string
	ensureErr    error
	listErr      error
	appendErr    error
	appendCalls  int
	statusCalls  int
	ensuredCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]store.CallSession),
		statuses: make(map[string]string),
	}
}

func (f *fakeStore) EnsureCallSession(ctx context.Context, callSID, to, from string) (store.CallSession, error) {
	f.ensuredCalls++
	if f.ensureErr != nil {
		return store.CallSession{}, f.ensureErr
	}
	session, ok := f.sessions[callSID]
	if !ok {
		session = store.CallSession{CallSID: callSID, ToNumber: to, FromNumber: from, Status: store.CallStatusActive}
		f.sessions[callSID] = session
	}
	return session, nil
}

func (f *fakeStore) UpdateCallSessionStatus(ctx context.Context, callSID, status string) error {
	f.statusCalls++
	if _, ok := f.sessions[callSID]; !ok {
		return store.ErrNotFound
	}
	f.statuses[callSID] = status
	return nil
}

func (f *fakeStore) ListTurns(ctx context.Context, callSID string) ([]store.Turn, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.Turn
	for _, turn := range f.turns {
		if turn.CallSID == callSID {
			out = append(out, turn)
		}
	}
	return out, nil
}

func (f *fakeStore) FindTurnByRecording(ctx context.Context, callSID, recordingSID string) (store.Turn, error) {
	for _, turn := range f.turns {
		if turn.CallSID == callSID && turn.RecordingSID == recordingSID {
			return turn, nil
		}
	}
	return store.Turn{}, store.ErrNotFound
}

func (f *fakeStore) AppendTurn(ctx context.Context, params store.AppendTurnParams) (store.Turn, bool, error) {
	f.appendCalls++
	if f.appendErr != nil {
		return store.Turn{}, false, f.appendErr
	}
	if existing, err := f.FindTurnByRecording(ctx, params.CallSID, params.RecordingSID); err == nil {
		return existing, false, nil
	}
	sequence := 0
	for _, turn := range f.turns {
		if turn.CallSID == params.CallSID && turn.SequenceNumber > sequence {
			sequence = turn.SequenceNumber
		}
	}
	turn := store.Turn{
		CallSID:        params.CallSID,
		SequenceNumber: sequence + 1,
		RecordingSID:   params.RecordingSID,
		RecordingURL:   params.RecordingURL,
		CallerText:     params.CallerText,
		AgentText:      params.AgentText,
	}
	f.turns = append(f.turns, turn)
	return turn, true, nil
}

type fakeEvents struct {
	started   []string
	completed []store.Turn
	ended     []string
}

func (f *fakeEvents) DispatchCallStarted(ctx context.Context, callSID, to string) {
	f.started = append(f.started, callSID)
}

func (f *fakeEvents) DispatchTurnCompleted(ctx context.Context, turn store.Turn) {
	f.completed = append(f.completed, turn)
}

func (f *fakeEvents) DispatchCallEnded(ctx context.Context, callSID, status string) {
	f.ended = append(f.ended, callSID)
}

// syncSubmitter runs jobs inline so tests observe persistence synchronously.
type syncSubmitter struct {
	full bool
}

func (s *syncSubmitter) TrySubmit(job func(ctx context.Context) error) bool {
	if s.full {
		return false
	}
	_ = job(context.Background())
	return true
}

type fixture struct {
	fetcher     *fakeFetcher
	transcriber *fakeTranscriber
	generator   *fakeGenerator
	synthesizer *fakeSynthesizer
	store       *fakeStore
	events      *fakeEvents
	jobs        *syncSubmitter
	processor   *Processor
}

func newFixture(cfg Config) *fixture {
	if cfg.Greeting == "" {
		cfg.Greeting = "Hello, this is the agent."
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = "I'm sorry, could you repeat that?"
	}
	if cfg.ApologyLine == "" {
		cfg.ApologyLine = "Sorry, I had trouble hearing you. Could you say that again?"
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 10
	}
	if cfg.TurnTimeout == 0 {
		cfg.TurnTimeout = 5 * time.Second
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = time.Second
		cfg.TranscribeTimeout = time.Second
		cfg.GenerateTimeout = time.Second
		cfg.SynthesizeTimeout = time.Second
	}
	f := &fixture{
		fetcher:     &fakeFetcher{audio: []byte("wav")},
		transcriber: &fakeTranscriber{text: "we have two openings"},
		generator:   &fakeGenerator{reply: "Could you tell me more about them?"},
		synthesizer: &fakeSynthesizer{url: "https://example.com/static/CA1-1.mp3"},
		store:       newFakeStore(),
		events:      &fakeEvents{},
		jobs:        &syncSubmitter{},
	}
	f.processor = New(f.fetcher, f.transcriber, f.generator, f.synthesizer, f.store, f.events, f.jobs, cfg, observability.NewLogger())
	return f
}

func turnRequest() TurnRequest {
	return TurnRequest{
		CallSID:      "CA1",
		RecordingSID: "RE1",
		RecordingURL: "https://api.example.com/recordings/RE1",
		CallStatus:   "in-progress",
		To:           "+15550001111",
		From:         "+15550002222",
	}
}

func TestHandleCallStarted(t *testing.T) {
	f := newFixture(Config{Greeting: "Hello, this is the agent."})
	ctx := context.Background()

	d := f.processor.HandleCallStarted(ctx, "CA1", "+15550001111", "+15550002222")

	if d.SpeakText != "Hello, this is the agent." {
		t.Errorf("expected greeting, got %q", d.SpeakText)
	}
	if d.Next != NextActionRecord {
		t.Errorf("expected record action, got %v", d.Next)
	}
	if _, ok := f.store.sessions["CA1"]; !ok {
		t.Error("expected call session to be created")
	}
	if len(f.events.started) != 1 {
		t.Errorf("expected 1 call started event, got %d", len(f.events.started))
	}
}

func TestHandleCallStarted_StoreErrorStillGreets(t *testing.T) {
	f := newFixture(Config{Greeting: "Hello, this is the agent."})
	f.store.ensureErr = errors.New("db down")

	d := f.processor.HandleCallStarted(context.Background(), "CA1", "", "")

	if d.SpeakText != "Hello, this is the agent." {
		t.Errorf("expected greeting despite store error, got %q", d.SpeakText)
	}
	if d.Next != NextActionRecord {
		t.Errorf("expected record action, got %v", d.Next)
	}
}

func TestHandleTurn_Success(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	d := f.processor.HandleTurn(ctx, turnRequest())

	if d.SpeakText != "Could you tell me more about them?" {
		t.Errorf("unexpected reply: %q", d.SpeakText)
	}
	if d.AudioURL != "https://example.com/static/CA1-1.mp3" {
		t.Errorf("unexpected audio URL: %q", d.AudioURL)
	}
	if d.Next != NextActionRecord {
		t.Errorf("expected record action, got %v", d.Next)
	}
	if f.generator.lastDctx.Utterance != "we have two openings" {
		t.Errorf("expected transcription in dialogue context, got %q", f.generator.lastDctx.Utterance)
	}
	if len(f.store.turns) != 1 {
		t.Fatalf("expected 1 persisted turn, got %d", len(f.store.turns))
	}
	turn := f.store.turns[0]
	if turn.SequenceNumber != 1 {
		t.Errorf("expected sequence 1, got %d", turn.SequenceNumber)
	}
	if turn.CallerText != "we have two openings" || turn.AgentText != "Could you tell me more about them?" {
		t.Errorf("unexpected persisted turn: %+v", turn)
	}
	if len(f.events.completed) != 1 {
		t.Errorf("expected 1 turn completed event, got %d", len(f.events.completed))
	}
}

func TestHandleTurn_SequenceIncrements(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	req := turnRequest()
	f.processor.HandleTurn(ctx, req)

	req.RecordingSID = "RE2"
	f.processor.HandleTurn(ctx, req)

	if len(f.store.turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(f.store.turns))
	}
	if f.store.turns[1].SequenceNumber != 2 {
		t.Errorf("expected sequence 2, got %d", f.store.turns[1].SequenceNumber)
	}
	if len(f.generator.lastDctx.Turns) != 1 {
		t.Errorf("expected 1 prior turn in dialogue context, got %d", len(f.generator.lastDctx.Turns))
	}
}

func TestHandleTurn_FetchFailureApologizesAndKeepsCallOpen(t *testing.T) {
	f := newFixture(Config{})
	f.fetcher.err = errors.New("recording not ready")

	d := f.processor.HandleTurn(context.Background(), turnRequest())

	if d.SpeakText != "Sorry, I had trouble hearing you. Could you say that again?" {
		t.Errorf("expected apology, got %q", d.SpeakText)
	}
	if d.Next != NextActionRecord {
		t.Errorf("fetch failure must keep the call open, got %v", d.Next)
	}
	if len(f.store.turns) != 0 {
		t.Errorf("failed fetch must not persist a turn, got %d", len(f.store.turns))
	}
}

func TestHandleTurn_TranscriptionFailureTreatedAsEmptyUtterance(t *testing.T) {
	f := newFixture(Config{})
	f.transcriber.err = errors.New("stt unavailable")

	d := f.processor.HandleTurn(context.Background(), turnRequest())

	if f.generator.lastDctx.Utterance != "" {
		t.Errorf("expected empty utterance, got %q", f.generator.lastDctx.Utterance)
	}
	if d.SpeakText == "" {
		t.Error("expected a spoken reply despite transcription failure")
	}
	if d.Next != NextActionRecord {
		t.Errorf("expected record action, got %v", d.Next)
	}
}

func TestHandleTurn_GenerationFailureUsesFallbackReply(t *testing.T) {
	f := newFixture(Config{FallbackReply: "I'm sorry, could you repeat that?"})
	f.generator.err = errors.New("model overloaded")

	d := f.processor.HandleTurn(context.Background(), turnRequest())

	if d.SpeakText != "I'm sorry, could you repeat that?" {
		t.Errorf("expected fallback reply, got %q", d.SpeakText)
	}
	if d.Next != NextActionRecord {
		t.Errorf("expected record action, got %v", d.Next)
	}
	if len(f.store.turns) != 1 {
		t.Fatalf("fallback turn must still be persisted, got %d", len(f.store.turns))
	}
	if f.store.turns[0].AgentText != "I'm sorry, could you repeat that?" {
		t.Errorf("expected fallback persisted as agent text, got %q", f.store.turns[0].AgentText)
	}
}

func TestHandleTurn_EmptyGenerationUsesFallbackReply(t *testing.T) {
	f := newFixture(Config{FallbackReply: "I'm sorry, could you repeat that?"})
	f.generator.reply = ""

	d := f.processor.HandleTurn(context.Background(), turnRequest())

	if d.SpeakText != "I'm sorry, could you repeat that?" {
		t.Errorf("expected fallback reply, got %q", d.SpeakText)
	}
}

func TestHandleTurn_SynthesisFailureFallsBackToText(t *testing.T) {
	f := newFixture(Config{})
	f.synthesizer.err = errors.New("tts down")

	d := f.processor.HandleTurn(context.Background(), turnRequest())

	if d.AudioURL != "" {
		t.Errorf("expected no audio URL, got %q", d.AudioURL)
	}
	if d.SpeakText != "Could you tell me more about them?" {
		t.Errorf("expected text reply to survive synthesis failure, got %q", d.SpeakText)
	}
}

func TestHandleTurn_MaxTurnsEndsCall(t *testing.T) {
	f := newFixture(Config{MaxTurns: 2})
	ctx := context.Background()

	req := turnRequest()
	d := f.processor.HandleTurn(ctx, req)
	if d.Next != NextActionRecord {
		t.Errorf("turn 1 of 2 should keep recording, got %v", d.Next)
	}

	req.RecordingSID = "RE2"
	d = f.processor.HandleTurn(ctx, req)
	if d.Next != NextActionEnd {
		t.Errorf("turn 2 of 2 should end the call, got %v", d.Next)
	}
}

func TestHandleTurn_DuplicateRecordingReplaysStoredReply(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	req := turnRequest()

	first := f.processor.HandleTurn(ctx, req)
	replay := f.processor.HandleTurn(ctx, req)

	if replay.SpeakText != first.SpeakText {
		t.Errorf("replay reply %q differs from original %q", replay.SpeakText, first.SpeakText)
	}
	if len(f.store.turns) != 1 {
		t.Errorf("replay must not append a new turn, got %d", len(f.store.turns))
	}
	if len(f.events.completed) != 1 {
		t.Errorf("replay must not re-publish the turn event, got %d", len(f.events.completed))
	}
	if f.fetcher.calls != 1 {
		t.Errorf("replay must not re-fetch the recording, got %d fetches", f.fetcher.calls)
	}
}

func TestHandleTurn_TerminalStatusClosesCall(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	f.processor.HandleCallStarted(ctx, "CA1", "", "")

	req := turnRequest()
	req.CallStatus = CallStatusCompleted
	d := f.processor.HandleTurn(ctx, req)

	if d.Next != NextActionEnd {
		t.Errorf("expected end action, got %v", d.Next)
	}
	if f.store.statuses["CA1"] != store.CallStatusClosed {
		t.Errorf("expected session closed, got %q", f.store.statuses["CA1"])
	}
	if len(f.events.ended) != 1 {
		t.Errorf("expected 1 call ended event, got %d", len(f.events.ended))
	}
}

func TestClose_FailedStatusMarksSessionFailed(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	f.processor.HandleCallStarted(ctx, "CA1", "", "")

	f.processor.Close(ctx, "CA1", CallStatusFailed)

	if f.store.statuses["CA1"] != store.CallStatusFailed {
		t.Errorf("expected failed status, got %q", f.store.statuses["CA1"])
	}
}

func TestHandleTurn_HistoryLoadFailureProceedsWithoutContext(t *testing.T) {
	f := newFixture(Config{})
	f.store.listErr = errors.New("db timeout")

	d := f.processor.HandleTurn(context.Background(), turnRequest())

	if d.SpeakText != "Could you tell me more about them?" {
		t.Errorf("expected reply despite history failure, got %q", d.SpeakText)
	}
	if len(f.generator.lastDctx.Turns) != 0 {
		t.Errorf("expected empty dialogue history, got %d turns", len(f.generator.lastDctx.Turns))
	}
}

func TestHandleTurn_PersistenceQueueFullStillResponds(t *testing.T) {
	f := newFixture(Config{})
	f.jobs.full = true

	d := f.processor.HandleTurn(context.Background(), turnRequest())

	if d.SpeakText == "" {
		t.Error("expected a reply even when the persistence queue is full")
	}
	if len(f.store.turns) != 0 {
		t.Errorf("dropped job must not persist, got %d turns", len(f.store.turns))
	}
}

// blockingGenerator holds until its context expires, standing in for a model
// call that never comes back in time.
type blockingGenerator struct{}

func (g *blockingGenerator) Generate(ctx context.Context, dctx DialogueContext) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type blockingFetcher struct{}

func (f *blockingFetcher) DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandleTurn_SharedDeadlineCapsSlowStages(t *testing.T) {
	// Each stage alone is allowed a full second; the turn deadline must
	// still bound their sum so the webhook response fits the platform's
	// window.
	f := newFixture(Config{
		TurnTimeout:       50 * time.Millisecond,
		FetchTimeout:      time.Second,
		TranscribeTimeout: time.Second,
		GenerateTimeout:   time.Second,
		SynthesizeTimeout: time.Second,
		FallbackReply:     "I'm sorry, could you repeat that?",
	})
	f.processor.generator = &blockingGenerator{}

	start := time.Now()
	d := f.processor.HandleTurn(context.Background(), turnRequest())
	elapsed := time.Since(start)

	if elapsed >= time.Second {
		t.Errorf("pipeline ran %v, expected the turn deadline to cut it short", elapsed)
	}
	if d.SpeakText != "I'm sorry, could you repeat that?" {
		t.Errorf("expected fallback reply after deadline, got %q", d.SpeakText)
	}
	if d.Next != NextActionRecord {
		t.Errorf("deadline expiry must keep the call open, got %v", d.Next)
	}
}

func TestHandleTurn_FetchStageInheritsTurnDeadline(t *testing.T) {
	f := newFixture(Config{
		TurnTimeout:  50 * time.Millisecond,
		FetchTimeout: time.Second,
		ApologyLine:  "Sorry, I had trouble hearing you. Could you say that again?",
	})
	f.processor.fetcher = &blockingFetcher{}

	start := time.Now()
	d := f.processor.HandleTurn(context.Background(), turnRequest())
	elapsed := time.Since(start)

	if elapsed >= time.Second {
		t.Errorf("fetch blocked for %v, expected the turn deadline to cut it short", elapsed)
	}
	if d.SpeakText != "Sorry, I had trouble hearing you. Could you say that again?" {
		t.Errorf("expected apology after deadline, got %q", d.SpeakText)
	}
	if d.Next != NextActionRecord {
		t.Errorf("expected record action, got %v", d.Next)
	}
}

func TestAppendTurn_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	params := store.AppendTurnParams{CallSID: "CA1", RecordingSID: "RE1", CallerText: "hi", AgentText: "hello"}

	for i := 0; i < 3; i++ {
		if _, _, err := f.store.AppendTurn(ctx, params); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	if len(f.store.turns) != 1 {
		t.Errorf("expected a single turn after redelivery, got %d", len(f.store.turns))
	}
}

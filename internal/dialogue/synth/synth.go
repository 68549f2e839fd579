// Package synth implements the processor.Synthesizer port by rendering reply
// text through a speech backend and storing the result as a fetchable asset.
package synth

import (
	"context"
	"fmt"

	"calling-agent/internal/observability"
)

// SpeechClient renders text to audio bytes.
type SpeechClient interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// AssetStore persists audio and returns a public URL.
type AssetStore interface {
	Store(callSID string, sequence int, audio []byte) (string, error)
}

type Synthesizer struct {
	speech SpeechClient
	assets AssetStore
	logger *observability.Logger
}

func New(speech SpeechClient, assets AssetStore, logger *observability.Logger) *Synthesizer {
	return &Synthesizer{speech: speech, assets: assets, logger: logger}
}

// Synthesize renders the reply and returns the asset URL the platform can
// play. Any failure propagates so the controller can fall back to having the
// platform speak the text itself.
func (s *Synthesizer) Synthesize(ctx context.Context, callSID string, sequence int, text string) (string, error) {
	audio, err := s.speech.Speak(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to render reply audio: %w", err)
	}
	url, err := s.assets.Store(callSID, sequence, audio)
	if err != nil {
		return "", fmt.Errorf("failed to store reply audio: %w", err)
	}
	return url, nil
}

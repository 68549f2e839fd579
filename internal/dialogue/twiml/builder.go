// Package twiml maps the controller's Directive to the call-control document
// returned to the telephony platform. The mapping is pure and total: every
// Directive value yields a valid document.
package twiml

import (
	"strconv"

	"calling-agent/internal/dialogue/processor"

	"github.com/twilio/twilio-go/twiml"
)

// Config bounds the record instruction so a silent counterpart cannot hold
// the call open indefinitely.
type Config struct {
	RecordAction string // webhook path for the next recording
	MaxLengthSec int
	TimeoutSec   int
}

const (
	defaultMaxLengthSec = 12
	defaultTimeoutSec   = 3
)

// Build renders a Directive as a TwiML voice document.
func Build(d processor.Directive, cfg Config) (string, error) {
	maxLength := cfg.MaxLengthSec
	if maxLength <= 0 {
		maxLength = defaultMaxLengthSec
	}
	timeout := cfg.TimeoutSec
	if timeout <= 0 {
		timeout = defaultTimeoutSec
	}

	var elements []twiml.Element

	switch {
	case d.AudioURL != "":
		elements = append(elements, &twiml.VoicePlay{Url: d.AudioURL})
	case d.SpeakText != "":
		elements = append(elements, &twiml.VoiceSay{Message: d.SpeakText, Voice: "alice"})
	}

	if d.Next == processor.NextActionEnd {
		elements = append(elements, &twiml.VoiceHangup{})
		return twiml.Voice(elements)
	}

	elements = append(elements, &twiml.VoiceRecord{
		Action:    cfg.RecordAction,
		Method:    "POST",
		MaxLength: strconv.Itoa(maxLength),
		Timeout:   strconv.Itoa(timeout),
		PlayBeep:  "true",
	})
	return twiml.Voice(elements)
}

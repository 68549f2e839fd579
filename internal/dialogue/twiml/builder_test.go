package twiml

import (
	"strings"
	"testing"

	"calling-agent/internal/dialogue/processor"
)

func TestBuild_SayThenRecord(t *testing.T) {
	doc, err := Build(processor.Directive{
		SpeakText: "Hello, this is the agent.",
		Next:      processor.NextActionRecord,
	}, Config{RecordAction: "/recording", MaxLengthSec: 12, TimeoutSec: 3})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(doc, "Hello, this is the agent.") {
		t.Errorf("document missing spoken text: %s", doc)
	}
	if !strings.Contains(doc, "<Record") {
		t.Errorf("document missing Record verb: %s", doc)
	}
	if !strings.Contains(doc, `maxLength="12"`) {
		t.Errorf("document missing recording length bound: %s", doc)
	}
	if !strings.Contains(doc, `timeout="3"`) {
		t.Errorf("document missing silence timeout: %s", doc)
	}
	if !strings.Contains(doc, `action="/recording"`) {
		t.Errorf("document missing record action: %s", doc)
	}
	if strings.Contains(doc, "<Hangup") {
		t.Errorf("record directive must not hang up: %s", doc)
	}
}

func TestBuild_PlayPreferredOverSay(t *testing.T) {
	doc, err := Build(processor.Directive{
		SpeakText: "fallback text",
		AudioURL:  "https://example.com/static/CA1-1.mp3",
		Next:      processor.NextActionRecord,
	}, Config{RecordAction: "/recording"})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(doc, "<Play>https://example.com/static/CA1-1.mp3</Play>") {
		t.Errorf("document missing Play verb: %s", doc)
	}
	if strings.Contains(doc, "<Say") {
		t.Errorf("audio URL present, Say must be omitted: %s", doc)
	}
}

func TestBuild_EndHangsUp(t *testing.T) {
	doc, err := Build(processor.Directive{
		SpeakText: "Goodbye.",
		Next:      processor.NextActionEnd,
	}, Config{RecordAction: "/recording"})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(doc, "<Hangup") {
		t.Errorf("end directive must hang up: %s", doc)
	}
	if strings.Contains(doc, "<Record") {
		t.Errorf("end directive must not record: %s", doc)
	}
}

func TestBuild_ZeroConfigUsesDefaults(t *testing.T) {
	doc, err := Build(processor.Directive{Next: processor.NextActionRecord}, Config{RecordAction: "/recording"})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(doc, `maxLength="12"`) || !strings.Contains(doc, `timeout="3"`) {
		t.Errorf("expected default recording bounds: %s", doc)
	}
}

func TestBuild_EmptyDirectiveStillValid(t *testing.T) {
	doc, err := Build(processor.Directive{}, Config{RecordAction: "/recording"})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(doc, "<Response>") {
		t.Errorf("expected a Response document: %s", doc)
	}
	if !strings.Contains(doc, "<Record") {
		t.Errorf("empty directive defaults to recording: %s", doc)
	}
}

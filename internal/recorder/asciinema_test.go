package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriteHeaderProducesValidFirstLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewWithWriter(&buf)

	if err := r.WriteHeader(120, 40); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}

	line := strings.TrimRight(buf.String(), "\n")
	var h Header
	if err := json.Unmarshal([]byte(line), &h); err != nil {
		t.Fatalf("header line is not valid JSON: %v", err)
	}
	if h.Version != 2 {
		t.Errorf("expected version 2, got %d", h.Version)
	}
	if h.Width != 120 || h.Height != 40 {
		t.Errorf("expected 120x40, got %dx%d", h.Width, h.Height)
	}
	if h.Timestamp != r.StartTime().Unix() {
		t.Errorf("timestamp mismatch: %d vs %d", h.Timestamp, r.StartTime().Unix())
	}
}

func TestEventsRecordedAsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	r := NewWithWriter(&buf)

	if err := r.WriteHeader(80, 24); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := r.WriteOutput([]byte("hello\r\n")); err != nil {
		t.Fatalf("WriteOutput failed: %v", err)
	}
	if err := r.WriteInput([]byte("ls\n")); err != nil {
		t.Fatalf("WriteInput failed: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	if !scanner.Scan() {
		t.Fatal("missing header line")
	}

	var events []Event
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("event line is not a valid cast event: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "o" || events[0].Data != "hello\r\n" {
		t.Errorf("unexpected output event: %+v", events[0])
	}
	if events[1].EventType != "i" || events[1].Data != "ls\n" {
		t.Errorf("unexpected input event: %+v", events[1])
	}
	if events[1].TimeOffset < events[0].TimeOffset {
		t.Error("event offsets must be non-decreasing")
	}
}

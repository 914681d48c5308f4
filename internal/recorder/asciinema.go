// Package recorder writes terminal sessions in asciinema v2 JSON-Lines format.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Header is the first line of an asciinema v2 cast file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is a single cast event: [time_offset, event_type, data].
type Event struct {
	TimeOffset float64
	EventType  string // "o" for output, "i" for input
	Data       string
}

// MarshalJSON encodes the event as the three-element array the format requires.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.EventType, e.Data})
}

// UnmarshalJSON decodes the three-element array form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	e.TimeOffset = offset

	kind, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	e.EventType = kind

	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}
	e.Data = payload

	return nil
}

// CastRecorder records a terminal session to a cast file.
type CastRecorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// New creates a CastRecorder that writes to the given file path.
func New(path string) (*CastRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create cast file: %w", err)
	}
	return &CastRecorder{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewWithWriter creates a CastRecorder that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *CastRecorder {
	return &CastRecorder{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the cast header. Call once before any events.
func (r *CastRecorder) WriteHeader(cols, rows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.startTime.Unix(),
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// WriteOutput records an output ("o") event.
func (r *CastRecorder) WriteOutput(data []byte) error {
	return r.writeEvent("o", data)
}

// WriteInput records an input ("i") event.
func (r *CastRecorder) WriteInput(data []byte) error {
	return r.writeEvent("i", data)
}

func (r *CastRecorder) writeEvent(kind string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := Event{
		TimeOffset: time.Since(r.startTime).Seconds(),
		EventType:  kind,
		Data:       string(data),
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the underlying file if the recorder owns one.
func (r *CastRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// StartTime returns the start time of the recording.
func (r *CastRecorder) StartTime() time.Time {
	return r.startTime
}

// Package telemetry exports client error events and traces.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sammoh94/pulsarkit/errors"
)

// Exporter records client events outside the process.
type Exporter interface {
	// LogEvent logs a session lifecycle event with the given name and data.
	LogEvent(name string, data map[string]interface{})
	// LogError logs a consumed client error.
	LogError(ev ErrorEvent)
	// Flush sends any buffered data.
	Flush() error
	// Close closes the exporter.
	Close() error
}

// ErrorEvent is one consumed client error.
type ErrorEvent struct {
	SessionID string    `json:"session_id"`
	Client    string    `json:"client,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorEvent describes err as taken by the given session.
func NewErrorEvent(sessionID, client string, err *errors.Error) ErrorEvent {
	return ErrorEvent{
		SessionID: sessionID,
		Client:    client,
		Kind:      err.Kind().String(),
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
}

// Event represents a telemetry event.
type Event struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewExporter creates a new exporter based on protocol.
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol: %s", protocol)
	}
}

// --- HTTP Exporter ---

// httpBatchSize is the number of buffered records that triggers a flush.
const httpBatchSize = 100

// HTTPExporter posts batches of records as a JSON array.
type HTTPExporter struct {
	endpoint string
	client   *http.Client
	buffer   []interface{}
	mu       sync.Mutex
}

// NewHTTPExporter creates a new HTTP exporter.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		buffer: make([]interface{}, 0, httpBatchSize),
	}
}

func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.add(Event{
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (e *HTTPExporter) LogError(ev ErrorEvent) {
	e.add(ev)
}

func (e *HTTPExporter) add(v interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, v)
	if len(e.buffer) >= httpBatchSize {
		e.flush()
	}
}

func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *HTTPExporter) flush() error {
	if len(e.buffer) == 0 {
		return nil
	}

	data, err := json.Marshal(e.buffer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}

	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends records to a file as JSON lines.
type FileExporter struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileExporter creates a new file exporter.
func NewFileExporter(path string) (*FileExporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	return &FileExporter{file: file}, nil
}

func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	e.write(Event{
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (e *FileExporter) LogError(ev ErrorEvent) {
	e.write(ev)
}

func (e *FileExporter) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(append(data, '\n'))
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Noop Exporter ---

// NoopExporter discards all telemetry.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) LogEvent(name string, data map[string]interface{}) {}
func (e *NoopExporter) LogError(ev ErrorEvent)                            {}
func (e *NoopExporter) Flush() error                                      { return nil }
func (e *NoopExporter) Close() error                                      { return nil }

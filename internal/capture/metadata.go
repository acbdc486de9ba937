// Package capture records what each trace capture was: its settings, its
// outcome and where the trace landed. Metadata sits next to the trace file;
// a JSONL history accumulates one entry per capture in the output directory.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MetadataSuffix is appended to the trace path to name its metadata file.
const MetadataSuffix = ".meta.json"

// Status is the outcome of a capture.
type Status string

const (
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Metadata is the JSON-serializable capture information.
type Metadata struct {
	// CaptureID is the unique capture identifier (UUID).
	CaptureID string `json:"capture_id"`

	// StartTime is when Tracing.start was acknowledged.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the trace was fully drained (zero while recording).
	EndTime time.Time `json:"end_time,omitzero"`

	// Status is the current capture state.
	Status Status `json:"status"`

	// URL is the page that was navigated during the capture, if any.
	URL string `json:"url,omitempty"`

	// TracePath is where the trace was written.
	TracePath string `json:"trace_path,omitempty"`

	// Categories is the category filter sent to the browser.
	Categories []string `json:"categories"`

	// Screenshots records whether frames were captured.
	Screenshots bool `json:"screenshots,omitempty"`

	// Bytes is the size of the drained trace.
	Bytes int `json:"bytes"`

	// Error is the failure message for failed captures.
	Error string `json:"error,omitempty"`
}

// NewMetadata starts a record for a capture beginning now.
func NewMetadata(url, tracePath string, categories []string, screenshots bool) *Metadata {
	return &Metadata{
		CaptureID:   uuid.New().String(),
		StartTime:   time.Now(),
		Status:      StatusRecording,
		URL:         url,
		TracePath:   tracePath,
		Categories:  categories,
		Screenshots: screenshots,
	}
}

// Complete marks the capture as finished with size bytes.
func (m *Metadata) Complete(size int) {
	m.EndTime = time.Now()
	m.Status = StatusCompleted
	m.Bytes = size
}

// Fail marks the capture as failed with err.
func (m *Metadata) Fail(err error) {
	m.EndTime = time.Now()
	m.Status = StatusFailed
	if err != nil {
		m.Error = err.Error()
	}
}

// Duration returns how long the capture took, or zero while recording.
func (m *Metadata) Duration() time.Duration {
	if m.EndTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// MetadataPath returns the metadata file path for a trace file.
func MetadataPath(tracePath string) string {
	return strings.TrimSuffix(tracePath, filepath.Ext(tracePath)) + MetadataSuffix
}

// Save writes metadata to path, creating parent directories.
func (m *Metadata) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing metadata file: %w", err)
	}
	return nil
}

// Load reads metadata from path.
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the user on purpose
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("metadata file not found: %w", err)
		}
		return nil, fmt.Errorf("reading metadata file: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return &m, nil
}

package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zjrosen/timeline/internal/log"
)

// HistoryFile is the filename of the capture history log.
const HistoryFile = "history.jsonl"

// maxLineSize bounds one history line; category lists can be long.
const maxLineSize = 1024 * 1024

// currentVersion is the schema version of history entries.
const currentVersion = 1

// Entry is one line of the history file.
type Entry struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Capture   Metadata  `json:"capture"`
}

// History appends capture records to a JSONL file. Entries are written
// synchronously; a failed write is counted and does not stop the caller.
type History struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	filePath string

	written   int64
	errors    int64
	lastError error
}

// OpenHistory opens (or creates) the history file in dir for appending.
func OpenHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	filePath := filepath.Join(dir, HistoryFile)

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // internal path
	if err != nil {
		return nil, fmt.Errorf("opening history file: %w", err)
	}

	return &History{
		file:     file,
		encoder:  json.NewEncoder(file),
		filePath: filePath,
	}, nil
}

// Record appends m to the history.
func (h *History) Record(m Metadata) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return
	}

	entry := Entry{
		Version:   currentVersion,
		Timestamp: time.Now(),
		Capture:   m,
	}
	if err := h.encoder.Encode(entry); err != nil {
		h.errors++
		h.lastError = err
		log.ErrorErr(log.CatCapture, "history write failed", err, "capture", m.CaptureID)
		return
	}
	h.written++
}

// Close syncs and closes the history file. Safe to call multiple times.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return nil
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("syncing history file: %w", err)
	}
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("closing history file: %w", err)
	}
	h.file = nil
	return nil
}

// Stats returns write statistics.
func (h *History) Stats() (written, errors int64, lastError error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.written, h.errors, h.lastError
}

// FilePath returns the path of the history file.
func (h *History) FilePath() string {
	return h.filePath
}

// ReadHistory loads every entry from the history file in dir. A missing
// file yields an empty slice. Malformed lines, e.g. from an interrupted
// write, are skipped.
func ReadHistory(dir string) ([]Entry, error) {
	file, err := os.Open(filepath.Join(dir, HistoryFile)) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	defer func() { _ = file.Close() }()

	entries := []Entry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			log.Warn(log.CatCapture, "skipping malformed history line", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning history file: %w", err)
	}
	return entries, nil
}

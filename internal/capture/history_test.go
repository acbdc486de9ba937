package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistory_RecordAndRead(t *testing.T) {
	dir := t.TempDir()

	h, err := OpenHistory(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, HistoryFile), h.FilePath())

	first := NewMetadata("https://a.example", "a.json", nil, false)
	first.Complete(10)
	second := NewMetadata("https://b.example", "b.json", []string{"v8"}, true)
	second.Complete(20)

	h.Record(*first)
	h.Record(*second)
	require.NoError(t, h.Close())

	written, errs, lastErr := h.Stats()
	require.Equal(t, int64(2), written)
	require.Zero(t, errs)
	require.NoError(t, lastErr)

	entries, err := ReadHistory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, first.CaptureID, entries[0].Capture.CaptureID)
	require.Equal(t, second.CaptureID, entries[1].Capture.CaptureID)
	require.Equal(t, currentVersion, entries[0].Version)
	require.Equal(t, 20, entries[1].Capture.Bytes)
}

func TestHistory_AppendsAcrossOpens(t *testing.T) {
	dir := t.TempDir()

	for range 3 {
		h, err := OpenHistory(dir)
		require.NoError(t, err)
		h.Record(*NewMetadata("", "t.json", nil, false))
		require.NoError(t, h.Close())
	}

	entries, err := ReadHistory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestHistory_CloseIdempotent(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	// Records after close are dropped silently.
	h.Record(*NewMetadata("", "t.json", nil, false))
	written, _, _ := h.Stats()
	require.Zero(t, written)
}

func TestReadHistory_MissingFile(t *testing.T) {
	entries, err := ReadHistory(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReadHistory_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"version":1,"timestamp":"2026-01-02T03:04:05Z","capture":{"capture_id":"one","status":"completed","categories":null,"bytes":1}}
{"version":1,"timestamp":
{"version":1,"timestamp":"2026-01-02T03:04:06Z","capture":{"capture_id":"two","status":"failed","categories":null,"bytes":0,"error":"boom"}}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, HistoryFile), []byte(content), 0600))

	entries, err := ReadHistory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "one", entries[0].Capture.CaptureID)
	require.Equal(t, "two", entries[1].Capture.CaptureID)
	require.Equal(t, StatusFailed, entries[1].Capture.Status)
	require.Equal(t, "boom", entries[1].Capture.Error)
}

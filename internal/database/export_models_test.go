package database

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportSessionRecordJSONShape(t *testing.T) {
	rec := ExportSessionRecord{
		ID:            "abc",
		Status:        ExportStatusFailed,
		ErrorKind:     "encode_invocation",
		ErrorMessage:  "boom",
		FramesWritten: 12,
		StartTime:     time.Now(),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var keys map[string]any
	require.NoError(t, json.Unmarshal(data, &keys))

	// The API serves these records next to live session payloads, so
	// the field names must stay snake_case.
	assert.Contains(t, keys, "id")
	assert.Contains(t, keys, "status")
	assert.Contains(t, keys, "error_kind")
	assert.Contains(t, keys, "frames_written")
	assert.Contains(t, keys, "start_time")
	assert.NotContains(t, keys, "ErrorKind")
	assert.NotContains(t, keys, "WorkDir")
}

func TestExportSessionRecordTerminal(t *testing.T) {
	for status, terminal := range map[ExportStatus]bool{
		ExportStatusCreated:   false,
		ExportStatusRendering: false,
		ExportStatusEncoding:  false,
		ExportStatusCompleted: true,
		ExportStatusFailed:    true,
	} {
		rec := ExportSessionRecord{Status: status}
		assert.Equal(t, terminal, rec.Terminal(), string(status))
	}
}

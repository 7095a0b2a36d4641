package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcecore/pkg/resilience"
)

func TestLoggerRespectsLevelThreshold(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(&Config{Level: InfoLevel, Format: TextFormat, Output: buf})

	logger.Debug("below threshold")
	assert.Zero(t, buf.Len())

	logger.Info("at threshold")
	assert.Contains(t, buf.String(), "at threshold")
	assert.Contains(t, buf.String(), "[INFO]")
}

func TestLoggerJSONFormatIncludesFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(&Config{Level: InfoLevel, Format: JSONFormat, Output: buf, EnableSanitizing: true})

	logger.Info("resource synced", map[string]interface{}{"resourceId": "bank-a", "count": 42})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "resource synced", entry.Message)
	assert.Equal(t, "bank-a", entry.Fields["resourceId"])
	assert.Equal(t, float64(42), entry.Fields["count"])
}

func TestLoggerWithComponentTagsEntries(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(&Config{Level: InfoLevel, Format: JSONFormat, Output: buf})
	sub := logger.WithComponent("sync")

	sub.Info("tick", nil)

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sync", entry.Fields["component"])
}

func TestLoggerSanitizesCPF(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(&Config{Level: InfoLevel, Format: TextFormat, Output: buf, EnableSanitizing: true})

	logger.Info("customer lookup failed for 123.456.789-09")

	assert.NotContains(t, buf.String(), "123.456.789-09")
	assert.Contains(t, buf.String(), "[CPF-REDACTED]")
}

func TestLoggerSanitizesSensitiveFieldNames(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(&Config{Level: InfoLevel, Format: JSONFormat, Output: buf, EnableSanitizing: true})

	logger.Info("institution call", map[string]interface{}{"api_key": "super-secret-value", "resourceId": "bank-a"})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[REDACTED]", entry.Fields["api_key"])
	assert.Equal(t, "bank-a", entry.Fields["resourceId"])
}

func TestLoggerSanitizingDisabledLeavesValuesIntact(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(&Config{Level: InfoLevel, Format: JSONFormat, Output: buf, EnableSanitizing: false})

	logger.Info("institution call", map[string]interface{}{"api_key": "super-secret-value"})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "super-secret-value", entry.Fields["api_key"])
}

func TestFieldsForErrorSurfacesClassification(t *testing.T) {
	classified := resilience.ClassifyHTTPError(errors.New("timeout"), 0, "institution-client")
	classified.Kind = resilience.KindUpstreamTimeout

	wrapped := fmt.Errorf("sync failed: %w", classified)

	fields := FieldsForError(wrapped, map[string]interface{}{"jobId": "job-1"})

	assert.Equal(t, "job-1", fields["jobId"])
	assert.Equal(t, "UPSTREAM_TIMEOUT", fields["errorKind"])
	assert.Equal(t, "institution-client", fields["errorComponent"])
	assert.Contains(t, fields["error"], "sync failed")
}

func TestFieldsForErrorPlainErrorStillGetsMessage(t *testing.T) {
	fields := FieldsForError(errors.New("boom"), nil)

	assert.Equal(t, "boom", fields["error"])
	assert.NotContains(t, fields, "errorKind")
}

func TestFieldsForErrorNilErrorReturnsBaseUnchanged(t *testing.T) {
	fields := FieldsForError(nil, map[string]interface{}{"jobId": "job-1"})

	assert.Equal(t, map[string]interface{}{"jobId": "job-1"}, fields)
}

func TestResolveOutputConsoleIsStdout(t *testing.T) {
	w, err := ResolveOutput("console", "")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, w)

	w, err = ResolveOutput("", "")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, w)
}

func TestResolveOutputFileRequiresFilename(t *testing.T) {
	_, err := ResolveOutput("file", "")
	assert.Error(t, err)
}

func TestResolveOutputFileWritesToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resourcecore.log")

	w, err := ResolveOutput("file", path)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestResolveOutputInvalidModeErrors(t *testing.T) {
	_, err := ResolveOutput("carrier-pigeon", "")
	assert.Error(t, err)
}

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		Configure("info", "text")
	})
	fn()
	return buf.String()
}

func TestLevelFiltering(t *testing.T) {
	out := capture(t, func() {
		Configure("warn", "text")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")
	})

	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestTextFormatFields(t *testing.T) {
	out := capture(t, func() {
		Configure("info", "text")
		Info("scan completed", String("root", "/data"), Int("splits", 2))
	})
	assert.Contains(t, out, "INFO: scan completed")
	assert.Contains(t, out, "root=/data")
	assert.Contains(t, out, "splits=2")
}

func TestJSONFormat(t *testing.T) {
	out := capture(t, func() {
		Configure("info", "json")
		Info("import started", String("dataset", "coco128"), Bool("resumed", false))
	})

	line := strings.TrimSpace(out)
	start := strings.Index(line, "{")
	require.GreaterOrEqual(t, start, 0, "expected a JSON object in output: %q", line)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line[start:]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "import started", entry["message"])
	assert.Equal(t, "coco128", entry["dataset"])
	assert.Equal(t, false, entry["resumed"])
}

func TestErrField(t *testing.T) {
	assert.Nil(t, Err("error", nil).Value)
	assert.Equal(t, "boom", Err("error", errors.New("boom")).Value)
}

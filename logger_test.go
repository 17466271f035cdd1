package pmem2

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		out = append(out, rec)
	}
	return out
}

func TestLogger_GranularityOverride(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)

	t.Setenv(ForceGranularityEnv, "sector")
	_, err := decide(GranularityPage, false, false, Shared, l)
	require.NoError(t, err)

	t.Setenv(ForceGranularityEnv, "Cache_Line")
	_, err = decide(GranularityPage, false, false, Shared, l)
	require.NoError(t, err)

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "sector", recs[0]["value"])
	assert.Equal(t, "INFO", recs[1]["level"])
	assert.Equal(t, "cache_line", recs[1]["granularity"])
}

func TestSetDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	SetDefaultLogger(bufferLogger(&buf))
	defer SetDefaultLogger(nil)

	t.Setenv(ForceGranularityEnv, "")
	src, err := NewAnonymousSource(4096)
	require.NoError(t, err)
	_, err = Map(NewConfig(), src)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "map failed")
}

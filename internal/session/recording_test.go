package session

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
)

func TestRecordingWritesTranscript(t *testing.T) {
	requireShell(t, "/bin/cat")
	dir := t.TempDir()
	m := newTestManager(t, func(o *Options) {
		o.Recording = config.RecordingConfig{Dir: dir, Level: 3}
	})
	events := m.Events()

	info, err := m.Create(context.Background(), CreateRequest{Kind: KindLocal, Shell: "/bin/cat"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(info.RecordingID, "rec_"), "recording id %q", info.RecordingID)

	_, err = m.Attach(context.Background(), info.ID, "chan-a")
	require.NoError(t, err)
	require.NoError(t, m.Write(info.ID, []byte("transcript probe\n")))
	waitOutput(t, events, info.ID, "transcript probe")

	require.NoError(t, m.Close(info.ID, ReasonClosedByUser))
	waitEvent(t, events, info.ID, EventClosed)

	f, err := os.Open(filepath.Join(dir, info.RecordingID+".cast.zst"))
	require.NoError(t, err, "transcript file should exist after close")
	defer f.Close()

	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.GreaterOrEqual(t, len(lines), 2, "header plus at least one event")

	var header map[string]interface{}
	require.NoError(t, sonic.Unmarshal([]byte(lines[0]), &header))
	assert.EqualValues(t, 2, header["version"])
	assert.EqualValues(t, 80, header["width"])
	assert.EqualValues(t, 24, header["height"])

	var sawInput, sawOutput bool
	for _, line := range lines[1:] {
		var ev [3]interface{}
		require.NoError(t, sonic.Unmarshal([]byte(line), &ev))
		kind, _ := ev[1].(string)
		data, _ := ev[2].(string)
		if kind == "i" && strings.Contains(data, "transcript probe") {
			sawInput = true
		}
		if kind == "o" && strings.Contains(data, "transcript probe") {
			sawOutput = true
		}
	}
	assert.True(t, sawInput, "input should be recorded")
	assert.True(t, sawOutput, "output should be recorded")
}

func TestRecordingDisabledWhenDirUnset(t *testing.T) {
	requireShell(t, "/bin/cat")
	m := newTestManager(t, nil)

	info, err := m.Create(context.Background(), CreateRequest{Kind: KindLocal, Shell: "/bin/cat"})
	require.NoError(t, err)
	assert.Empty(t, info.RecordingID)
}

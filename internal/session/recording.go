package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TermGate/internal/shared/id"
)

// recordingHeader is the first line of a transcript, following the
// asciinema v2 cast format so standard players can replay a
// decompressed file.
type recordingHeader struct {
	Version   int               `json:"version"`
	Width     uint16            `json:"width"`
	Height    uint16            `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// recorder streams timestamped terminal I/O into a zstd-compressed
// transcript file. Each event is one JSON line: [elapsed, "o"|"i", data].
type recorder struct {
	id    string
	path  string
	log   *logging.Logger
	start time.Time

	mu     sync.Mutex
	file   *os.File
	zw     *zstd.Encoder
	failed bool
	closed bool
}

// newRecorder opens a transcript file under dir. The recording ID is
// the file's base name.
func newRecorder(dir string, level int, term string, cols, rows uint16, log *logging.Logger) (*recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	recID := string(id.NewRecordingID())
	path := filepath.Join(dir, recID+".cast.zst")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	zw, err := zstd.NewWriter(file,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("zstd writer: %w", err)
	}

	r := &recorder{
		id:    recID,
		path:  path,
		log:   log,
		start: time.Now(),
		file:  file,
		zw:    zw,
	}
	r.writeLine(recordingHeader{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.start.Unix(),
		Env:       map[string]string{"TERM": term},
	})
	return r, nil
}

// record appends one event. kind is "o" for output, "i" for input.
// The first write failure disables the recorder for the session.
func (r *recorder) record(kind string, data []byte) {
	elapsed := time.Since(r.start).Seconds()
	r.writeLine([3]interface{}{elapsed, kind, string(data)})
}

func (r *recorder) writeLine(v interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed || r.closed {
		return
	}
	line, err := sonic.Marshal(v)
	if err == nil {
		line = append(line, '\n')
		_, err = r.zw.Write(line)
	}
	if err != nil {
		r.failed = true
		r.log.Warn("session recording disabled after write failure",
			zap.String("recording_id", r.id),
			zap.Error(err))
	}
}

// close flushes and closes the transcript. Idempotent.
func (r *recorder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if err := r.zw.Close(); err != nil && !r.failed {
		r.log.Warn("session recording flush failed",
			zap.String("recording_id", r.id),
			zap.Error(err))
	}
	r.file.Close()
}

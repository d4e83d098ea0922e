package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Logger is a tagged zerolog logger. Every component asks for its own via NewLogger.
type Logger struct {
	zerolog.Logger
}

var (
	mu      sync.RWMutex
	base    = zerolog.Nop()
	logFile *asyncWriter
)

// InitLogger configures the process-wide sinks. In dev mode records are mirrored to view
// (the debug console) or to stderr when view is nil. When logPath is set every record is
// appended to a timestamped file in that directory.
func InitLogger(dev bool, logPath string, view io.Writer) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	var writers []io.Writer
	if logPath != "" {
		timestamp := time.Now().Format("20060102_150405")
		fileName := fmt.Sprintf("studyhelper_log_%s.log", timestamp)
		filePath := filepath.Join(logPath, fileName)

		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "failed to open log file")
		}
		logFile = newAsyncWriter(file, 100)
		writers = append(writers, logFile)
	}

	if dev {
		out := view
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: "15:04:05"})
	}

	if len(writers) == 0 {
		base = zerolog.Nop()
		return nil
	}

	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}
	base = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return nil
}

// NewLogger returns a logger whose records carry the given tag.
func NewLogger(tag string) *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &Logger{Logger: base.With().Str("tag", tag).Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Close flushes and closes the log file, if any. Loggers created afterwards are no-ops.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.Nop()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// asyncWriter hands records to a single goroutine that owns the file.
type asyncWriter struct {
	out   io.WriteCloser
	lines chan []byte
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newAsyncWriter(out io.WriteCloser, buffer int) *asyncWriter {
	w := &asyncWriter{
		out:   out,
		lines: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
	go w.processLogs()
	return w
}

func (w *asyncWriter) processLogs() {
	defer close(w.done)
	for line := range w.lines {
		_, _ = w.out.Write(line)
	}
}

func (w *asyncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	// zerolog reuses its buffers, the goroutine needs its own copy.
	line := make([]byte, len(p))
	copy(line, p)
	w.lines <- line
	return len(p), nil
}

func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.lines)
	w.mu.Unlock()

	<-w.done
	return w.out.Close()
}

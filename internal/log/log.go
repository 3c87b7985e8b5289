package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the global logger.
type Options struct {
	// Debug lowers the minimum level to DEBUG and reports callers.
	Debug bool
	// File, if set, receives a rotated copy of every log line.
	File string
	// Output overrides stderr (used by tests).
	Output io.Writer
}

var (
	mu         sync.Mutex
	logger     *charmlog.Logger
	fileWriter *lumberjack.Logger
)

// initLogger installs a stderr logger at INFO level on first use.
// Callers must hold mu.
func initLogger() {
	if logger == nil {
		logger = newLogger(os.Stderr, false)
	}
}

func newLogger(w io.Writer, debug bool) *charmlog.Logger {
	level := charmlog.InfoLevel
	if debug {
		level = charmlog.DebugLevel
	}
	return charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		ReportCaller:    debug,
		Level:           level,
		Prefix:          "calnotes",
	})
}

// Init replaces the global logger according to opts.
func Init(opts Options) error {
	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}

	mu.Lock()
	defer mu.Unlock()

	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return err
		}
		fileWriter = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(out, fileWriter)
	}

	logger = newLogger(out, opts.Debug)
	return nil
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	initLogger()
	switch l {
	case LevelDebug:
		logger.SetLevel(charmlog.DebugLevel)
	case LevelWarn:
		logger.SetLevel(charmlog.WarnLevel)
	case LevelError:
		logger.SetLevel(charmlog.ErrorLevel)
	default:
		logger.SetLevel(charmlog.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Error(msg, extended...)
}

func current() *charmlog.Logger {
	mu.Lock()
	defer mu.Unlock()
	initLogger()
	return logger
}

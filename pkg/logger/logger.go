package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the process-wide logger. Init replaces it.
	Logger = logrus.StandardLogger()

	logMu   sync.Mutex
	fileOut *lumberjack.Logger
)

// Config controls log level and optional rotated file output.
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // empty means stdout only
	MaxSize    int    // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	JSON       bool
}

// Init builds the process logger from cfg. It is safe to call more than once.
func Init(cfg Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(formatter(cfg.JSON))

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		if fileOut != nil {
			_ = fileOut.Close()
		}
		fileOut = &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileOut)
	}
	out := io.MultiWriter(writers...)
	l.SetOutput(out)

	// Libraries that log through the std logrus logger end up in the same sinks.
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter(cfg.JSON))

	Logger = l
	return nil
}

func formatter(json bool) logrus.Formatter {
	if json {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	}
}

// Close flushes and closes the rotated file, if any.
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if fileOut == nil {
		return nil
	}
	err := fileOut.Close()
	fileOut = nil
	return err
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

// OrDefault returns l, or a component entry on the process logger when l is nil.
func OrDefault(l *logrus.Entry, component string) *logrus.Entry {
	if l != nil {
		return l
	}
	return Component(component)
}

func Info(args ...interface{}) {
	Logger.Info(args...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// WithFields adds fields to the process logger.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

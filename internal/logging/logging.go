package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes leveled records to stdout and a rotating file.
type Logger struct {
	*logrus.Logger
	file *lumberjack.Logger
}

// New builds a Logger writing into dir/relief.log at the given level.
func New(dir, level string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create logs folder failed: %w", err)
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "relief.log"),
		MaxSize:    50,
		MaxBackups: 7,
		MaxAge:     28,
		Compress:   true,
	}

	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetOutput(io.MultiWriter(os.Stdout, file))
	return &Logger{Logger: l, file: file}, nil
}

// Discard returns a Logger that drops everything. Used by tests.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

func (l *Logger) Close() {
	if l.file == nil {
		return
	}
	_ = l.file.Close()
}

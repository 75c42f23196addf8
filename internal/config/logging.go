package config

import (
	"io"
	"log"
	"strings"

	"github.com/hashicorp/logutils"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging routes the standard logger through a level filter and, when
// a file is configured, a rotating log file. Close the result on exit.
func SetupLogging(cfg LoggingConfig, console io.Writer) io.Closer {
	var out io.Writer = console
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(console, rotator)
		closer = rotator
	}
	log.SetOutput(NewLevelFilter(cfg.Level, out))
	log.Printf("[DEBUG] logging at %s", strings.ToUpper(cfg.Level))
	return closer
}

// NewLevelFilter drops lines tagged below level. Untagged lines always pass.
func NewLevelFilter(level string, w io.Writer) *logutils.LevelFilter {
	return &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(strings.ToUpper(level)),
		Writer:   w,
	}
}

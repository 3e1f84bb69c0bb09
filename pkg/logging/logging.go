// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level string
	// File, when set, sends output to a rotating log file instead of
	// stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup
// Applies the level, formatter and output to the standard logger. The
// returned closer releases the log file, if any.
func Setup(cfg Config) (io.Closer, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = log.ParseLevel(cfg.Level); err != nil {
			return nil, err
		}
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
	if cfg.File == "" {
		return io.NopCloser(nil), nil
	}
	output := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSizeMB, 500),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		Compress:   true,
	}
	log.SetOutput(output)
	return output, nil
}

func orDefault(value int, fallback int) int {
	if value != 0 {
		return value
	}
	return fallback
}

// ForWorker returns a logger entry tagged with the worker id.
func ForWorker(workerId int) *log.Entry {
	return log.WithField("worker", workerId)
}

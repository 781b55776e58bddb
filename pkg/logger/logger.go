package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus for structured logging
type Logger struct {
	*logrus.Logger
}

// Config for logger initialization
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer

	// File enables a size-rotated copy of the log stream
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New creates a new logger instance
func New(cfg Config) *Logger {
	log := logrus.New()

	// Set level
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// Set formatter
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		// colors only for a terminal; a supplied writer or a log file gets plain text
		plain := cfg.Output != nil || cfg.File != ""
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     !plain,
			DisableColors:   plain,
		})
	}

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}

	if cfg.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		})
	}
	log.SetOutput(out)

	return &Logger{Logger: log}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return New(Config{Level: "panic", Output: io.Discard})
}

// WithField adds a single field to the log entry
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields adds multiple fields to the log entry
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithError adds an error field to the log entry
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// ForGuild returns an entry scoped to a tenant
func (l *Logger) ForGuild(guildID string) *logrus.Entry {
	return l.Logger.WithField("guild", guildID)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Named returns a logger sharing this one's output and level that tags every
// entry with the bot name
func (l *Logger) Named(bot string) *Logger {
	child := logrus.New()
	child.SetOutput(l.Out)
	child.SetFormatter(l.Formatter)
	child.SetLevel(l.GetLevel())
	child.AddHook(fieldHook{key: "bot", value: bot})
	return &Logger{Logger: child}
}

type fieldHook struct {
	key   string
	value interface{}
}

func (h fieldHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h fieldHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data[h.key]; !ok {
		entry.Data[h.key] = h.value
	}
	return nil
}

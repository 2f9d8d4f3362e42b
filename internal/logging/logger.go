// Package logging builds the process logger. Components receive a logr.Logger
// and log at one of the verbosity levels below.
package logging

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Verbosity levels for logger.V().
const (
	DEFAULT = 2
	VERBOSE = 3
	DEBUG   = 4
	TRACE   = 5
)

// Options configure Setup.
type Options struct {
	// Level is a syslog style level, 0 (emergency) to 7 (debug).
	Level int
	// Format is "console" or "json".
	Format string
	// File, if set, receives the log through a rotating writer instead of stderr.
	File string
	// MaxSizeMB etc. control rotation of File.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger bundles the root logr.Logger with the level that can be changed at
// runtime.
type Logger struct {
	logr.Logger
	zap   *zap.Logger
	level zap.AtomicLevel
}

// Setup builds the process logger and redirects the stdlib log package to it.
// The caller should defer Sync.
func Setup(o Options) *Logger {
	level := zap.NewAtomicLevelAt(ZapLevel(o.Level))

	var encCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if strings.EqualFold(o.Format, "json") {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	if o.File != "" {
		if dir := filepath.Dir(o.File); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    max(o.MaxSizeMB, 10),
			MaxBackups: max(o.MaxBackups, 1),
			MaxAge:     max(o.MaxAgeDays, 7),
			Compress:   true,
		})
	} else {
		ws = zapcore.AddSync(os.Stderr)
	}

	zl := zap.New(zapcore.NewCore(encoder, ws, level), zap.AddCaller(), zap.AddStacktrace(zap.DPanicLevel))
	_, _ = zap.RedirectStdLogAt(zl, zap.InfoLevel)

	return &Logger{
		Logger: zapr.NewLogger(zl),
		zap:    zl,
		level:  level,
	}
}

// SetLevel changes the syslog style level at runtime.
func (l *Logger) SetLevel(level int) {
	l.level.SetLevel(ZapLevel(level))
}

// Level reports the current syslog style level.
func (l *Logger) Level() int {
	return SyslogLevel(l.level.Level())
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// ZapLevel maps a syslog level onto zap. Notice (5) enables V(DEFAULT), info
// (6) enables V(DEBUG) and debug (7) enables everything.
func ZapLevel(level int) zapcore.Level {
	switch {
	case level >= 7:
		return zapcore.Level(-TRACE)
	case level == 6:
		return zapcore.Level(-DEBUG)
	case level == 5:
		return zapcore.Level(-DEFAULT)
	case level == 4:
		return zapcore.InfoLevel
	default:
		return zapcore.ErrorLevel
	}
}

// SyslogLevel is the inverse of ZapLevel.
func SyslogLevel(l zapcore.Level) int {
	switch {
	case l <= zapcore.Level(-TRACE):
		return 7
	case l <= zapcore.Level(-DEBUG):
		return 6
	case l <= zapcore.Level(-DEFAULT):
		return 5
	case l <= zapcore.InfoLevel:
		return 4
	default:
		return 3
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	zl := zap.NewNop()
	return &Logger{
		Logger: zapr.NewLogger(zl),
		zap:    zl,
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
}

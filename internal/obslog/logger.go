// Package obslog builds the supervisor's structured logger.
//
// It mirrors the level/format switch used across the example pack's zap
// wrappers: a small set of named levels, a console-vs-JSON encoder choice,
// and an optional rotating file sink for long-lived supervisor processes.
package obslog

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level names accepted by the --log-level / SUPERVISOR_LOG_LEVEL setting.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Format selects the encoder used for stdout/stderr output.
type Format string

const (
	// FormatAuto picks JSON when stdout is not a terminal, console otherwise.
	FormatAuto Format = "AUTO"
	// FormatConsole is human-readable colorized output.
	FormatConsole Format = "CONSOLE"
	// FormatJSON is structured, machine-parseable output.
	FormatJSON Format = "JSON"
)

// Options configures the logger constructed by New.
type Options struct {
	Level string
	// Format controls the console-vs-JSON encoder. FormatAuto (the zero
	// value) detects based on whether stdout is attached to a terminal.
	Format Format
	// RotatingFilePath, if set, additionally writes JSON-encoded entries
	// to a size-rotated file via lumberjack. This is the supervisor's own
	// operational log, independent of the captured child stdout/stderr
	// tail (see pkg/logtail).
	RotatingFilePath string
	MaxSizeMB        int
	MaxBackups       int
	MaxAgeDays       int
}

func levelFromString(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func resolveFormat(f Format) Format {
	if f != "" && f != FormatAuto {
		return f
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return FormatConsole
	}
	return FormatJSON
}

// New builds a *zap.Logger per Options. The caller owns the returned
// logger and is responsible for calling Sync before exit; there is no
// package-level global (the Supervisor instance owns all state and passes
// this handle to every collaborator it constructs).
func New(opts Options) *zap.Logger {
	level := levelFromString(opts.Level)

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	}

	var consoleEncoder zapcore.Encoder
	switch resolveFormat(opts.Format) {
	case FormatConsole:
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		consoleEncoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	atomicLevel := zap.NewAtomicLevelAt(level)
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), atomicLevel),
	}

	if opts.RotatingFilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.RotatingFilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
		fileEncoderCfg := encoderCfg
		fileEncoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), zapcore.AddSync(rotator), atomicLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Noop returns a logger that discards everything, for tests that don't
// care about log output.
func Noop() *zap.Logger {
	return zap.NewNop()
}

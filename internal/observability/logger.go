// Package observability owns the process-wide operator log.
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/flow-automator/internal/config"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	current  atomic.Pointer[zap.Logger]
	initOnce sync.Once
)

// colorAttrs maps the names accepted in logger.colors to terminal colours.
var colorAttrs = map[string]color.Attribute{
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
}

// syncNoise are Sync failures reported by terminals and pipes that cannot
// be flushed. They carry no lost entries.
var syncNoise = []string{
	"sync /dev/stdout",
	"sync /dev/stderr",
	"invalid argument",
	"inappropriate ioctl",
	"operation not supported",
}

// Initialize installs the process logger on first call; later calls are
// ignored. Entries go to console, and additionally as JSON to a rotated
// cfg.LogFile when one is configured (the file `logs --follow` reads).
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	initOnce.Do(func() {
		level := zap.NewAtomicLevelAt(zap.InfoLevel)
		if cfg.Level != "" {
			if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
				level.SetLevel(zap.InfoLevel)
			}
		}

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}
		logger := zap.New(zapcore.NewTee(cores(cfg, console, level)...), opts...).Named(cfg.ServiceName)

		current.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// ResetForTest forgets the installed logger so Initialize runs again.
func ResetForTest() {
	current.Store(nil)
	initOnce = sync.Once{}
}

func cores(cfg config.LoggerConfig, console zapcore.WriteSyncer, level zapcore.LevelEnabler) []zapcore.Core {
	consoleEnc := jsonEncoder()
	if cfg.Format == "console" {
		consoleEnc = consoleEncoder(cfg.Colors)
	}
	out := []zapcore.Core{zapcore.NewCore(consoleEnc, console, level)}
	if cfg.LogFile == "" {
		return out
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	return append(out, zapcore.NewCore(jsonEncoder(), sink, level))
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(encoderConfig())
}

// consoleEncoder writes one line per entry with a coloured level and the
// dotted logger name, e.g. "flow.orchestrator.".
func consoleEncoder(colors config.ColorConfig) zapcore.Encoder {
	ec := encoderConfig()
	ec.EncodeLevel = levelEncoder(colors)
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

func levelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	names := map[zapcore.Level]string{
		zapcore.DebugLevel:  colors.Debug,
		zapcore.InfoLevel:   colors.Info,
		zapcore.WarnLevel:   colors.Warn,
		zapcore.ErrorLevel:  colors.Error,
		zapcore.DPanicLevel: colors.DPanic,
		zapcore.PanicLevel:  colors.Panic,
		zapcore.FatalLevel:  colors.Fatal,
	}
	painters := make(map[zapcore.Level]*color.Color, len(names))
	for lvl, name := range names {
		attr, ok := colorAttrs[strings.ToLower(name)]
		if !ok {
			continue
		}
		c := color.New(attr)
		// The console sink may be a pipe; colouring follows config, not TTY detection.
		c.EnableColor()
		painters[lvl] = c
	}
	return func(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		label := lvl.CapitalString()
		if c, ok := painters[lvl]; ok {
			label = c.Sprint(label)
		}
		enc.AppendString(label)
	}
}

// GetLogger returns the installed logger. Before Initialize it hands out a
// development logger named "fallback".
func GetLogger() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes the installed logger, reporting only failures that may have
// lost entries.
func Sync() {
	l := current.Load()
	if l == nil {
		return
	}
	err := l.Sync()
	if err == nil {
		return
	}
	msg := err.Error()
	for _, noise := range syncNoise {
		if strings.Contains(msg, noise) {
			return
		}
	}
	fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
}

// Package logging builds the process wide zap logger.
package logging

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where and how much to log.
type Options struct {
	// File is the log file path. Logs go to stderr when empty.
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// JSON selects the JSON encoder instead of the console one.
	JSON bool
}

// Setup builds a logger from opts and installs it as the zap global logger.
// The returned function flushes it.
func Setup(opts Options) (func(), error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("parsing log level %q: %w", opts.Level, err)
		}
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		config := zap.NewProductionEncoderConfig()
		config.CallerKey = "source"
		config.TimeKey = "timestamp"
		config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strconv.FormatInt(t.Unix(), 10))
		}
		encoder = zapcore.NewJSONEncoder(config)
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	var writer zapcore.WriteSyncer
	if opts.File == "" {
		writer = zapcore.Lock(os.Stderr)
	} else {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}

	logger := zap.New(zapcore.NewCore(encoder, writer, level), zap.AddCaller())
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}, nil
}

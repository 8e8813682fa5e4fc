// Package logging builds the zap loggers used by the nlsock-go command.
package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/database64128/nlsock-go/jsoncfg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConsoleOptions controls the output of a console logger.
type ConsoleOptions struct {
	NoColor   bool
	NoTime    bool
	AddCaller bool
}

var consolePresets = map[string]ConsoleOptions{
	"console":         {},
	"console-nocolor": {NoColor: true},
	"console-notime":  {NoTime: true},
	"systemd":         {NoColor: true, NoTime: true},
}

// NewZapLogger returns a new [*zap.Logger] with the given preset and log level.
//
// The available presets are:
//
//   - "console" (default): Reasonable defaults for production console environments.
//   - "console-nocolor": Same as "console", but without color.
//   - "console-notime": Same as "console", but without timestamps.
//   - "systemd": Same as "console", but without color and timestamps.
//   - "production": Zap's built-in production preset.
//   - "development": Zap's built-in development preset.
//
// Any other preset is treated as a path to a JSON zap configuration file.
// The log level only applies to the console presets.
func NewZapLogger(preset string, level zapcore.Level) (*zap.Logger, error) {
	if preset == "" {
		preset = "console"
	}
	if opts, ok := consolePresets[preset]; ok {
		return NewConsoleZapLogger(zapcore.Lock(os.Stderr), level, opts), nil
	}

	var cfg zap.Config
	switch preset {
	case "production":
		cfg = zap.NewProductionConfig()
	case "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		if err := jsoncfg.Open(preset, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load zap logger config from file %q: %w", preset, err)
		}
	}
	return cfg.Build()
}

// NewConsoleZapLogger creates a new [*zap.Logger] that writes console-encoded entries to ws.
//
// See [NewConsoleEncoderConfig] for the encoder configuration.
func NewConsoleZapLogger(ws zapcore.WriteSyncer, level zapcore.Level, opts ConsoleOptions) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(NewConsoleEncoderConfig(opts))
	core := zapcore.NewCore(enc, ws, level)
	var zapOpts []zap.Option
	if opts.NoTime {
		// The sampler needs a real clock, so only use this without sampling.
		zapOpts = append(zapOpts, zap.WithClock(zeroClock{}))
	}
	if opts.AddCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	return zap.New(core, zapOpts...)
}

// NewConsoleEncoderConfig returns an opinionated [zapcore.EncoderConfig] for console output.
func NewConsoleEncoderConfig(opts ConsoleOptions) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		TimeKey:          "T",
		LevelKey:         "L",
		NameKey:          "N",
		CallerKey:        "C",
		FunctionKey:      zapcore.OmitKey,
		MessageKey:       "M",
		StacktraceKey:    "S",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalColorLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: " ",
	}
	if opts.NoColor {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if opts.NoTime {
		ec.TimeKey = zapcore.OmitKey
		ec.EncodeTime = nil
	}
	return ec
}

// zeroClock always returns the zero time.
//
// zeroClock implements [zapcore.Clock].
type zeroClock struct{}

func (zeroClock) Now() time.Time {
	return time.Time{}
}

func (zeroClock) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

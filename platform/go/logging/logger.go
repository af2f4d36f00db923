package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the component name and minimum severity of a service logger.
type Config struct {
	// Component is attached to every entry ("api-server", "cli").
	Component string
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Output defaults to stdout.
	Output io.Writer
}

// NewLogger builds a JSON zap logger whose field names and severities match Cloud Logging.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, err
		}
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeLevel:    severityEncoder,
	})

	logger := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(out), level), zap.AddCaller())
	if cfg.Component != "" {
		logger = logger.With(zap.String("component", cfg.Component))
	}
	return logger, nil
}

var severities = map[zapcore.Level]string{
	zapcore.DebugLevel:  "DEBUG",
	zapcore.InfoLevel:   "INFO",
	zapcore.WarnLevel:   "WARNING",
	zapcore.ErrorLevel:  "ERROR",
	zapcore.DPanicLevel: "ALERT",
	zapcore.PanicLevel:  "ALERT",
	zapcore.FatalLevel:  "CRITICAL",
}

func severityEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if s, ok := severities[l]; ok {
		enc.AppendString(s)
		return
	}
	enc.AppendString(strings.ToUpper(l.String()))
}

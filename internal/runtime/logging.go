package runtime

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger: JSON in production, console when debug is set.
func NewLogger(levelName string, debug bool) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	name := strings.ToLower(strings.TrimSpace(levelName))
	if name == "" {
		name = "info"
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q, using info: %v\n", levelName, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := "json"
	if debug {
		encoding = "console"
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg := zap.Config{
		Level:             level,
		Development:       debug,
		DisableCaller:     !debug,
		DisableStacktrace: !debug,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

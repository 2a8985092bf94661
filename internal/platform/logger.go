package platform

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger. Unknown levels fall back to info and
// unknown encodings to json.
func NewLogger(level, encoding string) (*zap.Logger, error) {
	atom := zap.NewAtomicLevel()
	lvl := strings.ToLower(level)
	if lvl == "" {
		lvl = "info"
	}
	if err := atom.UnmarshalText([]byte(lvl)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q, using info: %v\n", level, err)
		atom.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	enc := strings.ToLower(encoding)
	if enc != "console" && enc != "json" {
		enc = "json"
	}

	zcfg := zap.Config{
		Level:             atom,
		Development:       false,
		DisableCaller:     true,
		DisableStacktrace: true,
		Encoding:          enc,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}

	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}

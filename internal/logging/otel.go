// internal/logging/otel.go
package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newDualCore creates core with a console stream and/or OTEL output.
func newDualCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	switch {
	case cfg.Output.Stderr:
		writer := zapcore.Lock(zapcore.AddSync(os.Stderr))
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), writer, cfg.Level))
	case cfg.Output.Stdout:
		writer := zapcore.Lock(zapcore.AddSync(os.Stdout))
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), writer, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("cognitiond",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling), nil
}

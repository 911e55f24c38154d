// Package logging provides structured logging for cognitiond.
//
// # Overview
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, execution_id, definition_id)
//   - Level-aware sampling (warnings and errors are never sampled)
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithExecution(ctx, execID, defID)
//	logger.Info(ctx, "phase complete", zap.String("phase_id", "p1"))
//
// Engine leaf packages accept a plain *zap.Logger; use Underlying() to hand
// one over.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "phase complete")
//	tl.AssertLogged(t, zapcore.InfoLevel, "phase complete")
package logging

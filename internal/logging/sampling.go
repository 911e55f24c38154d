// internal/logging/sampling.go
package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core so that Info and below are sampled per tick.
// Warnings and errors always pass: they feed operators' view of degraded
// agents and sealing retries.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	alwaysCore := &levelFilterCore{
		Core:     core,
		minLevel: zapcore.WarnLevel,
		hasMin:   true,
	}
	belowWarnCore := &levelFilterCore{
		Core:     core,
		maxLevel: zapcore.InfoLevel,
		hasMax:   true,
	}

	sampled := zapcore.NewSamplerWithOptions(
		belowWarnCore,
		cfg.Tick.Duration(),
		cfg.Initial,
		cfg.Thereafter,
	)
	return zapcore.NewTee(alwaysCore, sampled)
}

// levelFilterCore filters logs by level range.
type levelFilterCore struct {
	zapcore.Core
	minLevel zapcore.Level
	maxLevel zapcore.Level
	hasMin   bool
	hasMax   bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if c.hasMin && lvl < c.minLevel {
		return false
	}
	if c.hasMax && lvl > c.maxLevel {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With creates a child core that preserves level filtering.
func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:     c.Core.With(fields),
		minLevel: c.minLevel,
		maxLevel: c.maxLevel,
		hasMin:   c.hasMin,
		hasMax:   c.hasMax,
	}
}

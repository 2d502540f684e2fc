package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with one sampler per configured level.
// Error and above are never sampled; levels without a config pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := []zapcore.Core{
		&levelFilterCore{Core: core, only: func(l zapcore.Level) bool {
			_, sampled := cfg.Levels[l]
			return l >= zapcore.ErrorLevel || !sampled
		}},
	}

	for level, lc := range cfg.Levels {
		if level >= zapcore.ErrorLevel {
			continue
		}
		level := level
		filtered := &levelFilterCore{Core: core, only: func(l zapcore.Level) bool { return l == level }}
		cores = append(cores, zapcore.NewSamplerWithOptions(filtered, cfg.Tick.Duration(), lc.Initial, lc.Thereafter))
	}

	return zapcore.NewTee(cores...)
}

// levelFilterCore admits only the levels accepted by only.
type levelFilterCore struct {
	zapcore.Core
	only func(zapcore.Level) bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.only(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), only: c.only}
}

package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. The embedding providers log each chunk of a
// batch at this level.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses --log-level and logging.level values. It accepts
// zap's names plus "trace".
func LevelFromString(s string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// encodeLevel prints TRACE rather than zap's LEVEL(-2).
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

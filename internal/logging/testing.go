package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, trace level included, for assertions.
// It applies no redaction, so AssertNoSecrets sees what the code logged.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

func (t *TestLogger) Reset() { t.observed.TakeAll() }

func (t *TestLogger) find(level zapcore.Level, msg string) bool {
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return true
		}
	}
	return false
}

func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if !t.find(level, msg) {
		tb.Errorf("no %v entry containing %q; got %d entries", level, msg, t.observed.Len())
	}
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.find(level, msg) {
		tb.Errorf("unexpected %v entry containing %q", level, msg)
	}
}

// AssertField checks that some entry matching msg carries key=want.
// Integers are recorded as int64.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessageSnippet(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no entry containing %q has %s=%v", msg, key, want)
}

// AssertNoSecrets fails when an entry carries a value the default redaction
// rules would hide or mask. Addresses are not checked; tests log fixture
// mailboxes freely.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	rules := NewDefaultConfig().Redaction
	rules.Addresses = false
	r, err := newRedactor(rules)
	if err != nil {
		tb.Fatalf("default redaction rules: %v", err)
	}
	for _, e := range t.observed.All() {
		if r.value("", e.Message) != e.Message {
			tb.Errorf("secret in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType || f.String == "" {
				continue
			}
			if strings.HasPrefix(f.String, "[REDACTED") {
				continue
			}
			if r.hides(f.Key) {
				tb.Errorf("field %q logged in clear", f.Key)
				continue
			}
			if r.value(f.Key, f.String) != f.String {
				tb.Errorf("secret in field %q: %q", f.Key, f.String)
			}
		}
	}
}

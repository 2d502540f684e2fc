package logging

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mailindex/internal/config"
)

const (
	redactedValue   = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

func redactedLen(n int) string { return "[REDACTED:" + strconv.Itoa(n) + "]" }

// Secret logs a config.Secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, redactedLen(len(val.Value())))
}

// RedactedString logs val as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, redactedLen(len(val)))
}

var addressPattern = regexp.MustCompile(`([A-Za-z0-9._%+-])[A-Za-z0-9._%+-]*@([A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*\.[A-Za-z]{2,})`)

// maskAddresses keeps the first letter of each local part and the domain:
// alice@example.com becomes a***@example.com.
func maskAddresses(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	return addressPattern.ReplaceAllString(s, "$1***@$2")
}

// redactor holds compiled redaction rules.
type redactor struct {
	keys      map[string]struct{}
	keep      map[string]struct{}
	patterns  []*regexp.Regexp
	addresses bool
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{
		keys:      lowerSet(cfg.Keys),
		keep:      lowerSet(cfg.Keep),
		addresses: cfg.Addresses,
	}
	for _, p := range cfg.Patterns {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func lowerSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[strings.ToLower(s)] = struct{}{}
	}
	return out
}

func (r *redactor) hides(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// value masks pattern spans and, unless key is kept, addresses.
func (r *redactor) value(key, s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedPattern)
	}
	if r.addresses {
		if _, kept := r.keep[strings.ToLower(key)]; !kept {
			s = maskAddresses(s)
		}
	}
	return s
}

func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if r.hides(f.Key) {
		return zap.String(f.Key, redactedValue)
	}
	if f.Type == zapcore.StringType {
		f.String = r.value(f.Key, f.String)
	}
	return f
}

// RedactingEncoder applies redaction rules to both the fields bound with
// Logger.With and the fields of each entry.
type RedactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

// NewRedactingEncoder wraps base. With redaction disabled it passes
// everything through.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	r, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, r: r}, nil
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.r == nil {
		e.Encoder.AddString(key, val)
		return
	}
	e.r.field(zap.String(key, val)).AddTo(e.Encoder)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.r != nil && e.r.hides(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.r != nil && e.r.hides(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.r != nil && e.r.hides(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r != nil && e.r.hides(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r != nil && e.r.hides(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// EncodeEntry redacts per-entry fields; the wrapped encoder would otherwise
// add them to its own clone, bypassing the Add methods above.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.r == nil {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = e.r.field(f)
	}
	ent.Message = e.r.value("", ent.Message)
	return e.Encoder.EncodeEntry(ent, out)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}

package logging

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/earlyspark/ai-candidate/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// maxPatternLen bounds user-supplied redaction patterns.
const maxPatternLen = 200

// Contact details appear in ingested resumes and would otherwise reach the
// logs through content snippets.
var contactPatterns = []string{
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
	`\(?\b\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`,
}

// secretMarshaler wraps config.Secret for Zap object marshaling.
type secretMarshaler struct {
	key string
	val config.Secret
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// Secret creates a Zap field for config.Secret that records only its length.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// redactor holds compiled redaction rules.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}

	sources := cfg.Patterns
	if cfg.ContactInfo {
		sources = append(append([]string(nil), sources...), contactPatterns...)
	}
	for _, p := range sources {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// sensitiveKey matches a configured name exactly or as the last segment of
// a dotted or underscored key ("openai_api_key", "llm.token").
func (r *redactor) sensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if _, ok := r.keys[key]; ok {
		return true
	}
	for k := range r.keys {
		if strings.HasSuffix(key, "_"+k) || strings.HasSuffix(key, "."+k) {
			return true
		}
	}
	return false
}

// scrub replaces every pattern match in val and reports whether it changed.
func (r *redactor) scrub(val string) (string, bool) {
	out := val
	for _, re := range r.patterns {
		out = re.ReplaceAllLiteralString(out, redacted)
	}
	return out, out != val
}

// field returns f with sensitive content removed.
func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if r.sensitiveKey(f.Key) {
		return zap.String(f.Key, redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		if s, changed := r.scrub(f.String); changed {
			return zap.String(f.Key, s)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			if s, changed := r.scrub(err.Error()); changed {
				return zap.String(f.Key, s)
			}
		}
	}
	return f
}

// RedactingEncoder wraps a zapcore.Encoder and removes secrets and contact
// details from messages, call-site fields and accumulated context.
type RedactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

// NewRedactingEncoder wraps base with the rules in cfg. A disabled config
// yields a pass-through encoder.
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

// EncodeEntry scrubs the message and call-site fields before encoding.
// Fields passed here bypass the Add* methods below.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.r == nil {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	ent.Message, _ = e.r.scrub(ent.Message)
	clean := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		clean[i] = e.r.field(f)
	}
	return e.Encoder.EncodeEntry(ent, clean)
}

// AddString scrubs fields attached with Logger.With.
func (e *RedactingEncoder) AddString(key, val string) {
	if e.r != nil {
		if e.r.sensitiveKey(key) {
			val = redacted
		} else {
			val, _ = e.r.scrub(val)
		}
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.r != nil && e.r.sensitiveKey(key) {
		val = []byte(redacted)
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.r != nil && e.r.sensitiveKey(key) {
		val = []byte(redacted)
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected drops the whole value under a sensitive key. Nested values
// are not inspected.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.r != nil && e.r.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r != nil && e.r.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r != nil && e.r.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone creates a copy of the encoder sharing the compiled rules.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}

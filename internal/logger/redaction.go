package logger

import (
	"io"
	"regexp"
)

// Redactor strips credential material from log output: session tokens,
// API keys, signatures, and private keys must never land in a log file.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// OpenAI-style API keys
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Session and auth tokens in structured output
			regexp.MustCompile(`"?token"?["\s:=]+"?[a-zA-Z0-9._-]{16,}"?`),

			// ed25519 signatures and keys travel base64-encoded; the field
			// names are stable even when the payload shape changes
			regexp.MustCompile(`"?signature"?["\s:=]+"?[a-zA-Z0-9+/=]{16,}"?`),
			regexp.MustCompile(`"?private_key"?["\s:=]+"?[a-zA-Z0-9+/=]{16,}"?`),

			// Generic secrets
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// Report the original length so zerolog does not treat length drift
	// from redaction as a short write.
	return len(p), nil
}

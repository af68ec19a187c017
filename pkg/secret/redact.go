package secret

import (
	"encoding/json"
	"sort"
	"strings"
)

const Mask = "***"

// minFragmentLen limits redaction of separate lines of multi-line secrets.
const minFragmentLen = 8

// Redactor masks secret values in log lines and error messages.
// A nil Redactor returns input as is.
type Redactor struct {
	replacer *strings.Replacer
}

func NewRedactor(values Values) *Redactor {
	seen := map[string]struct{}{}
	add := func(s string) {
		if s == "" {
			return
		}
		seen[s] = struct{}{}
	}

	for _, value := range values {
		add(value)
		add(jsonEscaped(value))
		if strings.Contains(value, "\n") {
			for _, line := range strings.Split(value, "\n") {
				line = strings.TrimSpace(line)
				if len(line) >= minFragmentLen {
					add(line)
					add(jsonEscaped(line))
				}
			}
		}
	}

	if len(seen) == 0 {
		return &Redactor{}
	}

	secrets := make([]string, 0, len(seen))
	for s := range seen {
		secrets = append(secrets, s)
	}
	// Longest first: Replacer prefers earlier pairs for matches at the same position.
	sort.Slice(secrets, func(i, j int) bool {
		if len(secrets[i]) != len(secrets[j]) {
			return len(secrets[i]) > len(secrets[j])
		}
		return secrets[i] < secrets[j]
	})

	pairs := make([]string, 0, len(secrets)*2)
	for _, s := range secrets {
		pairs = append(pairs, s, Mask)
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

func (r *Redactor) Redact(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}

// RedactError returns an error with masked message or nil.
func (r *Redactor) RedactError(err error) error {
	if err == nil || r == nil || r.replacer == nil {
		return err
	}
	msg := err.Error()
	redacted := r.Redact(msg)
	if redacted == msg {
		return err
	}
	return &redactedError{msg: redacted, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

// jsonEscaped returns a value as it appears inside a JSON string.
func jsonEscaped(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	escaped := string(b[1 : len(b)-1])
	if escaped == s {
		return ""
	}
	return escaped
}

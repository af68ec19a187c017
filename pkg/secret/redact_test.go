package secret

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactor_Redact(t *testing.T) {
	r := NewRedactor(Values{"GCP_SERVICE_ACCOUNT_KEY": testKey, "TOKEN": "s3cr3t-t0ken"})

	tests := []struct {
		name string
		in   string
		out  string
	}{
		{"plain value", "token is s3cr3t-t0ken!", "token is ***!"},
		{"raw multi-line value", "key=" + testKey, "key=***"},
		{"json escaped value", `{"msg":"` + jsonEscaped(testKey) + `"}`, `{"msg":"***"}`},
		{"single line of a multi-line value", `printed: "type": "service_account",`, "printed: ***"},
		{"no secrets", "nothing to hide", "nothing to hide"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.out, r.Redact(tt.in))
		})
	}
}

func TestRedactor_RedactError(t *testing.T) {
	r := NewRedactor(Values{"TOKEN": "s3cr3t-t0ken"})
	base := fmt.Errorf("exec failed with s3cr3t-t0ken")

	err := r.RedactError(base)
	assert.EqualError(t, err, "exec failed with ***")
	assert.ErrorIs(t, err, base)

	clean := fmt.Errorf("no secret")
	assert.Same(t, clean, r.RedactError(clean))
	assert.Nil(t, r.RedactError(nil))
}

func TestRedactor_Nil(t *testing.T) {
	var r *Redactor
	assert.Equal(t, "as is", r.Redact("as is"))
	assert.Equal(t, "as is", NewRedactor(nil).Redact("as is"))
}

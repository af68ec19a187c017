package utils

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeLabels(t *testing.T) {
	merged := MergeLabels(map[string]string{"a": "1", "b": "2"}, map[string]string{"b": "3"})
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, merged)
}

func TestLabelsToLogAttrs(t *testing.T) {
	attrs := LabelsToLogAttrs(map[string]string{"z": "1", "a": "2"})
	assert.Equal(t, []any{slog.String("a", "2"), slog.String("z", "1")}, attrs)
}

func TestLabelNames(t *testing.T) {
	labels := map[string]string{"workflow": "get-news", "trigger": "manual"}
	assert.Equal(t, []string{"trigger", "workflow"}, LabelNames(labels))
	assert.Empty(t, LabelNames(nil))
}

func TestDefaultIfEmpty(t *testing.T) {
	def := map[string]string{"component": "secrets"}
	assert.Equal(t, def, DefaultIfEmpty(nil, def))
	assert.Equal(t, map[string]string{"a": "1"}, DefaultIfEmpty(map[string]string{"a": "1"}, def))
}

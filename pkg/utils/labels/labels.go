package utils

import (
	"log/slog"
	"maps"
	"slices"
)

// MergeLabels returns a new map with keys of all maps. Later maps win.
func MergeLabels(labelsMaps ...map[string]string) map[string]string {
	labels := make(map[string]string)
	for _, labelsMap := range labelsMaps {
		maps.Copy(labels, labelsMap)
	}
	return labels
}

// LabelsToLogAttrs returns slog attributes for labels in a stable order.
func LabelsToLogAttrs(labelsMaps ...map[string]string) []any {
	merged := MergeLabels(labelsMaps...)
	attrs := make([]any, 0, len(merged))
	for _, name := range LabelNames(merged) {
		attrs = append(attrs, slog.String(name, merged[name]))
	}
	return attrs
}

// LabelNames returns sorted label keys, metric label names are registered in this order.
func LabelNames(labels map[string]string) []string {
	return slices.Sorted(maps.Keys(labels))
}

func DefaultIfEmpty(m map[string]string, def map[string]string) map[string]string {
	if len(m) == 0 {
		return def
	}
	return m
}

package telemetry

import (
	"context"
	"maps"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys. The connector set is small and fixed, so
// connector is safe as a label dimension.
const (
	ProfilingLabelConnector = "connector"
	ProfilingLabelOperation = "operation"
)

// MaxLabelValueLength caps label values so a runaway value cannot blow
// up series cardinality in Pyroscope.
const MaxLabelValueLength = 128

// highCardinalityLabels are per-request identifiers that must never
// become profiling dimensions. sanitizeLabels drops them silently.
var highCardinalityLabels = map[string]bool{
	"user_id":    true,
	"request_id": true,
	"entry_hash": true,
	"trace_id":   true,
	"span_id":    true,
	"session_id": true,
}

// WithProfilingLabels runs fn with the given labels attached to its
// profiling samples. The map is copied before use, so the caller may
// reuse it afterwards. pyroscope.TagWrapper sits on Go's native pprof
// label API, so the labels also show up in standard pprof output.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// OperationLabels builds the label set for one connector operation.
func OperationLabels(operation string, extra map[string]string) map[string]string {
	labels := make(map[string]string, len(extra)+1)
	labels[ProfilingLabelOperation] = operation
	maps.Copy(labels, extra)
	return labels
}

// sanitizeLabels flattens the map into pyroscope's key-value slice:
// high-cardinality and empty entries are dropped, values truncated,
// keys normalized to snake_case, output ordered for determinism.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(labels)*2)
	for _, key := range keys {
		value := labels[key]
		if key == "" || value == "" || highCardinalityLabels[key] {
			continue
		}
		if len(value) > MaxLabelValueLength {
			value = value[:MaxLabelValueLength]
		}
		if key = sanitizeLabelKey(key); key == "" {
			continue
		}
		pairs = append(pairs, key, value)
	}
	return pairs
}

func sanitizeLabelKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")

	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			out = append(out, c)
		}
	}
	return string(out)
}

package telemetry

// Module label values identify which subsystem emitted a unified metric,
// so dashboards can filter request/tool-call metrics by source without
// every subsystem inventing its own metric names.
const ModuleOrchestration = "orchestration"

const (
	unifiedRequestDuration = "request.duration_ms"
	unifiedRequestTotal    = "request.total"
	unifiedRequestErrors   = "request.errors"

	unifiedToolCallDuration = "tool.call.duration_ms"
	unifiedToolCallTotal    = "tool.call.total"
	unifiedToolCallErrors   = "tool.call.errors"
	unifiedToolCallRetries  = "tool.call.retries"
)

// RecordRequest records a top-level request's outcome: a refinement run,
// an expert-panel invocation, anything with a module/operation/status
// shape. Call once at the end of the request.
func RecordRequest(module, operation string, durationMs float64, status string) {
	Histogram(unifiedRequestDuration, durationMs, "module", module, "operation", operation, "status", status)
	Counter(unifiedRequestTotal, "module", module, "operation", operation, "status", status)
}

// RecordRequestError records a request failure with a caller-classified
// error type (e.g. "executor_error", "timeout").
func RecordRequestError(module, operation, errorType string) {
	Counter(unifiedRequestErrors, "module", module, "operation", operation, "error_type", errorType)
}

// RecordToolCall records an external call — a coordinator worker spawn,
// an expert execution — keyed by the tool/role name.
func RecordToolCall(module, toolName string, durationMs float64, status string) {
	Histogram(unifiedToolCallDuration, durationMs, "module", module, "tool_name", toolName, "status", status)
	Counter(unifiedToolCallTotal, "module", module, "tool_name", toolName, "status", status)
}

// RecordToolCallError records a tool call failure with a classified error type.
func RecordToolCallError(module, toolName, errorType string) {
	Counter(unifiedToolCallErrors, "module", module, "tool_name", toolName, "error_type", errorType)
}

// RecordToolCallRetry records one retry attempt of a tool call.
func RecordToolCallRetry(module, toolName string) {
	Counter(unifiedToolCallRetries, "module", module, "tool_name", toolName)
}

func init() {
	DeclareMetrics("unified", ModuleConfig{
		Metrics: []MetricDefinition{
			{Name: unifiedRequestDuration, Type: "histogram", Help: "Request duration in milliseconds", Labels: []string{"module", "operation", "status"}, Unit: "ms", Buckets: []float64{100, 500, 1000, 5000, 10000, 60000}},
			{Name: unifiedRequestTotal, Type: "counter", Help: "Total requests processed", Labels: []string{"module", "operation", "status"}},
			{Name: unifiedRequestErrors, Type: "counter", Help: "Request errors by type", Labels: []string{"module", "operation", "error_type"}},
			{Name: unifiedToolCallDuration, Type: "histogram", Help: "Tool call duration in milliseconds", Labels: []string{"module", "tool_name", "status"}, Unit: "ms", Buckets: []float64{10, 100, 1000, 5000, 30000}},
			{Name: unifiedToolCallTotal, Type: "counter", Help: "Total tool calls", Labels: []string{"module", "tool_name", "status"}},
			{Name: unifiedToolCallErrors, Type: "counter", Help: "Tool call errors by type", Labels: []string{"module", "tool_name", "error_type"}},
			{Name: unifiedToolCallRetries, Type: "counter", Help: "Tool call retry attempts", Labels: []string{"module", "tool_name"}},
		},
	})
}

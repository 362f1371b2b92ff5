package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request / correlation ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the refresh job record ID
	FieldJobID = "job_id"

	// FieldItemID is the upstream item identifier
	FieldItemID = "item_id"

	// FieldMarketplace is the marketplace code
	FieldMarketplace = "marketplace"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldAttempt is the retry attempt number
	FieldAttempt = "attempt"

	// FieldBreakerState is the circuit breaker state at log time
	FieldBreakerState = "breaker_state"
)

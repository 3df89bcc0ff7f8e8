package storage

// StorageMetrics provides telemetry for one storage operation, recorded
// around the Store's document methods (StoreDocument, CheckExists,
// DeleteDocument, MarkIndexed) (grounded on the teacher's storage metrics
// collector, generalized from a git-backend concern to a relational one).
type StorageMetrics struct {
	OperationType string
	Duration      int64 // nanoseconds
	Success       bool
	Backend       string
	Error         error
}

// MetricsCollector receives storage operation metrics.
type MetricsCollector interface {
	RecordMetric(metric StorageMetrics)
}

package breaker

const (
	// MetricRequestsTotal 请求总数，按 result 区分 success/failure/rejected
	MetricRequestsTotal = "breaker_requests_total"

	// MetricStateChanges 状态变更次数
	MetricStateChanges = "breaker_state_changes_total"

	LabelKey       = "key"
	LabelResult    = "result"
	LabelFromState = "from_state"
	LabelToState   = "to_state"
)

const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultRejected = "rejected"
)

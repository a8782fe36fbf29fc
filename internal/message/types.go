package message

// -----------------------------------------------------------------------------
// Payloads of the known channels. Consumers decode these with DecodeData;
// the transport itself never depends on them.
// -----------------------------------------------------------------------------

// Heartbeat is the payload of the heartbeat channel.
type Heartbeat struct {
	SentAt int64 `json:"sent_at"` // Unix milliseconds
}

// MetricsSample is one resource usage sample for a workload.
type MetricsSample struct {
	Namespace string  `json:"namespace,omitempty"`
	Workload  string  `json:"workload,omitempty"`
	CPU       float64 `json:"cpu"`                // Percent of requested CPU
	Memory    float64 `json:"memory"`             // Percent of requested memory
	Requests  float64 `json:"requests,omitempty"` // Requests per second
	Errors    float64 `json:"errors,omitempty"`   // Errors per second
	Timestamp int64   `json:"timestamp,omitempty"`
}

// PodEvent reports a pod phase change.
type PodEvent struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Phase     string `json:"phase"` // Pending, Running, Succeeded, Failed, Unknown
	Node      string `json:"node,omitempty"`
	Restarts  int    `json:"restarts,omitempty"`
}

// ClusterEvent is a Kubernetes-style event (reason + message on an object).
type ClusterEvent struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	Type      string `json:"type"` // Normal or Warning
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// WorkflowUpdate reports progress of a deployment or pipeline run.
type WorkflowUpdate struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"` // queued, running, succeeded, failed
	Step       string `json:"step,omitempty"`
	Progress   int    `json:"progress,omitempty"` // 0-100
}

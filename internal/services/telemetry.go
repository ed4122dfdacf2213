package services

// Telemetry is the per-request payload handed over by the edge proxy.
// It is the classifier's only view of the request: the pipeline observes
// traffic, it never serves it.
type Telemetry struct {
	IPAddress string            `json:"ip_address" binding:"required"`
	Method    string            `json:"method" binding:"required"`
	Path      string            `json:"path" binding:"required"`
	UserAgent string            `json:"user_agent"`
	Referer   string            `json:"referer"`
	Origin    string            `json:"origin"`
	Headers   map[string]string `json:"headers"`
	Query     map[string]string `json:"query_params"`
	BodySize  int               `json:"body_size"`

	ResponseStatus int `json:"response_status"`
	ResponseTimeMs int `json:"response_time_ms"`

	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

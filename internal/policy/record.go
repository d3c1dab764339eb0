package policy

// Record binds a URI pattern to the policy payload it selects. Pattern is
// matched case-insensitively and may be either a literal path or a regular
// expression; the payload is opaque to matching.
type Record[P any] struct {
	Pattern string `json:"pattern"`
	Payload P      `json:"payload"`
}

// CircuitBreaker carries the per-URI breaker parameters consumed by the
// dispatch layer once a request has been resolved to a policy.
type CircuitBreaker struct {
	TimeoutMillis         int    `json:"timeoutMillis" koanf:"timeoutMillis"`
	MaxConcurrentRequests int    `json:"maxConcurrentRequests" koanf:"maxConcurrentRequests"`
	ErrorThresholdPercent int    `json:"errorThresholdPercent" koanf:"errorThresholdPercent"`
	ForceClosed           bool   `json:"forceClosed" koanf:"forceClosed"`
	FallbackStatus        int    `json:"fallbackStatus,omitempty" koanf:"fallbackStatus"`
	FallbackBody          string `json:"fallbackBody,omitempty" koanf:"fallbackBody"`
}

// BlacklistRule is the payload of the companion blacklist table. Dimensions
// names the request attributes (ip, deviceId, ...) the rule keys on.
type BlacklistRule struct {
	Name       string   `json:"name" koanf:"name"`
	Dimensions []string `json:"dimensions,omitempty" koanf:"dimensions"`
	Reason     string   `json:"reason,omitempty" koanf:"reason"`
}

// Matcher is the read side of a published policy table.
type Matcher[P any] interface {
	Match(uri string) (Record[P], bool)
	Len() int
}

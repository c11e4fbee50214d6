package types

// AskRequest is the body of POST /assistants/{assistantId}/ask and the
// legacy POST /ask endpoint.
type AskRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
}

// AskResponse carries one completed conversational turn. ThreadID must be
// round-tripped by the client to continue the same conversation.
type AskResponse struct {
	Reply       string `json:"reply"`
	ThreadID    string `json:"threadId"`
	AssistantID string `json:"assistantId"`
}

// AssistantInfo is the public view of a configured assistant.
type AssistantInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Subdomain   string `json:"subdomain"`
}

// AssistantListResponse is returned by GET /assistants.
type AssistantListResponse struct {
	AppName          string          `json:"appName"`
	Assistants       []AssistantInfo `json:"assistants"`
	DefaultAssistant string          `json:"defaultAssistant"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	App       string `json:"app"`
	Version   string `json:"version"`
}

// ErrorResponse is the uniform error body for every non-2xx response.
// RetryAfter is set only on rate-limit denials, in milliseconds.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	Details    string `json:"details,omitempty"`
	Scope      string `json:"scope,omitempty"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

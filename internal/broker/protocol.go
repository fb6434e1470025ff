// Package broker serializes every external-assistant invocation behind
// a unix-socket request/response protocol: one UTF-8 JSON object per
// line, one request per connection.
package broker

// Request kinds.
const (
	KindPing   = "ping"
	KindInfo   = "info"
	KindPrompt = "prompt"
)

// Protocol error codes, returned in Response.Error.
const (
	ErrInvalidJSON    = "invalid_json"
	ErrInvalidRequest = "invalid_request"
	ErrUnknownKind    = "unknown_kind"
	ErrEmptyPrompt    = "empty_prompt"
)

// Request is the single wire request shape.
type Request struct {
	Kind      string `json:"kind"`
	Prompt    string `json:"prompt,omitempty"`
	Persona   string `json:"persona,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Response is the single wire response shape. Kind is set for ping and
// info replies; ExitCode/Output for prompt replies.
type Response struct {
	OK                 bool   `json:"ok"`
	Kind               string `json:"kind,omitempty"`
	Error              string `json:"error,omitempty"`
	RepoRoot           string `json:"repoRoot,omitempty"`
	AssistantConfigDir string `json:"assistantConfigDir,omitempty"`
	ExitCode           int    `json:"exitCode"`
	Output             string `json:"output,omitempty"`
}

func errorResponse(code string) Response {
	return Response{OK: false, Error: code}
}

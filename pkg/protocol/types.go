// Package protocol holds the JSON-RPC method names and payloads spoken
// between the hotcmd daemon and its clients.
package protocol

const (
	MethodDispatch = "dispatch"
	MethodStats    = "stats"
	MethodCommands = "commands"
	MethodReload   = "reload"
	MethodHealth   = "health"

	// MethodReply is a server-to-client notification carrying one handler
	// reply while the dispatch call is still running.
	MethodReply = "reply"
)

// Application error codes, outside the range reserved by JSON-RPC.
const (
	CodeReloadFailed = -32001
	CodeStoreFailed  = -32002
	CodeUnavailable  = -32003
)

type DispatchParams struct {
	Command             string   `json:"command"`
	Invoker             string   `json:"invoker"`
	Contexts            []string `json:"contexts,omitempty"`
	Args                []string `json:"args,omitempty"`
	InvokerCapabilities []string `json:"invoker_capabilities,omitempty"`
	// HostCapabilities are added to the daemon's configured host set.
	HostCapabilities []string          `json:"host_capabilities,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type StatsParams struct {
	// Persisted asks for aggregates over the usage database instead of the
	// in-memory history.
	Persisted bool  `json:"persisted,omitempty"`
	SinceMs   int64 `json:"since_ms,omitempty"`
}

type ReloadParams struct {
	Path string `json:"path"`
}

type ReplyNotification struct {
	Command string `json:"command"`
	Invoker string `json:"invoker"`
	Text    string `json:"text"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Uptime   int64  `json:"uptime"`
	Commands int    `json:"commands"`
}

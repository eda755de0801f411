package model

// ServerVersion is reported in welcome frames and the status action.
const ServerVersion = "1.0.0"

// WelcomePayload is sent to a socket or websocket client right after connect.
type WelcomePayload struct {
	Context       string   `json:"context"`
	Welcome       string   `json:"welcome"`
	ConnectionID  string   `json:"connectionId"`
	ServerID      string   `json:"serverId"`
	ServerVersion string   `json:"serverVersion"`
	Rooms         []string `json:"rooms"`
}

// GoodbyePayload is the last frame before the server closes a connection.
type GoodbyePayload struct {
	Context string `json:"context"`
	Reason  string `json:"reason"`
	Code    string `json:"code,omitempty"` // "SHUTDOWN", "DESTROYED", "QUIT"
}

// Goodbye reasons sent by the server.
const (
	ReasonShutdown  = "server shutting down"
	ReasonDestroyed = "destroyed"
	ReasonQuit      = "quit"
)

// GoodbyeCode maps a reason to its machine-readable code; other reasons carry none.
func GoodbyeCode(reason string) string {
	switch reason {
	case ReasonShutdown:
		return "SHUTDOWN"
	case ReasonDestroyed:
		return "DESTROYED"
	case ReasonQuit:
		return "QUIT"
	default:
		return ""
	}
}

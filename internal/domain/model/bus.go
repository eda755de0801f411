package model

import "encoding/json"

// MessageType discriminates the envelopes sharing the cluster channel.
type MessageType string

const (
	MessageDo         MessageType = "do"
	MessageDoResponse MessageType = "doResponse"
	MessageChat       MessageType = "chat"
)

// Envelope is the header every cluster message carries.
// Receivers decode it first to authenticate and route the payload.
type Envelope struct {
	MessageType MessageType `json:"messageType"`
	ServerID    string      `json:"serverId"`
	ServerToken string      `json:"serverToken"`
}

// RPCRequest asks every peer (or only the owner of ConnectionID) to run Method.
type RPCRequest struct {
	MessageType  MessageType       `json:"messageType"`
	ServerID     string            `json:"serverId"`
	ServerToken  string            `json:"serverToken"`
	RequestID    string            `json:"requestId"`
	Method       string            `json:"method"`
	ConnectionID string            `json:"connectionId,omitempty"`
	Args         []json.RawMessage `json:"args"`
}

// RPCResponse carries the return values of one executed request.
type RPCResponse struct {
	MessageType MessageType       `json:"messageType"`
	ServerID    string            `json:"serverId"`
	ServerToken string            `json:"serverToken"`
	RequestID   string            `json:"requestId"`
	Response    []json.RawMessage `json:"response"`
	Error       string            `json:"error,omitempty"`
}

// ChatMatch restricts a broadcast to connections whose attribute Key equals Value.
type ChatMatch struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ChatMessage is a room broadcast as it travels between nodes.
type ChatMessage struct {
	MessageType MessageType     `json:"messageType"`
	ServerID    string          `json:"serverId"`
	ServerToken string          `json:"serverToken"`
	Room        string          `json:"room"`
	From        string          `json:"from"`
	Message     json.RawMessage `json:"message"`
	SentAt      int64           `json:"sentAt"`
	Match       *ChatMatch      `json:"match,omitempty"`
}

// ChatDelivery is what a member connection receives.
type ChatDelivery struct {
	Context string          `json:"context"`
	From    string          `json:"from"`
	Room    string          `json:"room"`
	Message json.RawMessage `json:"message"`
	SentAt  int64           `json:"sentAt"`
}

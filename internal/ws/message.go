// Package ws tracks live WebSocket connections, their topic subscriptions
// and terminal attachments, and fans broadcast frames out to them.
package ws

import "encoding/json"

// MessageType discriminates the JSON frames exchanged with viewers.
type MessageType string

const (
	// Client -> server
	MessageTypeInput       MessageType = "terminal.input"
	MessageTypeResize      MessageType = "terminal.resize"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePong        MessageType = "pong"

	// Server -> client
	MessageTypeOutput           MessageType = "terminal.output"
	MessageTypeHistory          MessageType = "terminal.history"
	MessageTypeViewers          MessageType = "terminal.viewers"
	MessageTypeCwd              MessageType = "terminal.cwd"
	MessageTypeWorking          MessageType = "terminal.working"
	MessageTypeExit             MessageType = "terminal.exit"
	MessageTypeQueueStarted     MessageType = "queue.started"
	MessageTypeCommandStarted   MessageType = "queue.command.started"
	MessageTypeCommandCompleted MessageType = "queue.command.completed"
	MessageTypeQueueCompleted   MessageType = "queue.completed"
	MessageTypeQueueFailed      MessageType = "queue.failed"
	MessageTypeQueueCancelled   MessageType = "queue.cancelled"
	MessageTypePing             MessageType = "ping"
	MessageTypeError            MessageType = "error"
)

// TopicKind names a broadcast group kind a connection can subscribe to.
type TopicKind string

const (
	TopicTeam      TopicKind = "team"
	TopicServer    TopicKind = "server"
	TopicWorkspace TopicKind = "workspace"
)

// Message is one JSON frame. Fields are populated per type; zero fields are
// omitted on the wire.
type Message struct {
	Type       MessageType `json:"type"`
	TerminalID string      `json:"terminalId,omitempty"`
	Data       string      `json:"data,omitempty"`
	Cols       uint16      `json:"cols,omitempty"`
	Rows       uint16      `json:"rows,omitempty"`
	Topic      TopicKind   `json:"topic,omitempty"`
	TopicID    string      `json:"topicId,omitempty"`
	QueueID    string      `json:"queueId,omitempty"`
	CommandID  string      `json:"commandId,omitempty"`
	ExitCode   *int        `json:"exitCode,omitempty"`
	Name       string      `json:"name,omitempty"`
	TaskID     *string     `json:"taskId,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Cwd        string      `json:"cwd,omitempty"`
	Working    *bool       `json:"working,omitempty"`
	Viewers    []Viewer    `json:"viewers,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Viewer is one de-duplicated user present on a terminal.
type Viewer struct {
	UserID     string `json:"userId"`
	Permission string `json:"permission,omitempty"`
	Owner      bool   `json:"owner"`
}

// Encode marshals the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

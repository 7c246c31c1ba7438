package session

import (
	"encoding/json"

	"github.com/ashureev/commanddeck/internal/domain"
)

// Inbound event types.
const (
	EventChatCommand = "chat_command"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventPing        = "ping"
)

// Outbound event types.
const (
	EventCommandStatus      = "command_status"
	EventProcessingStep     = "processing_step"
	EventAPIResponse        = "api_response"
	EventClearChatHistory   = "clear_chat_history"
	EventTypingIndicator    = "typing_indicator"
	EventUserTyping         = "user_typing"
	EventPong               = "pong"
	EventSystemNotification = "system_notification"
)

// Command status values.
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusError      = "error"
)

// ErrorCode is the stable code attached to an error status.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN_ERROR"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeStorage        ErrorCode = "STORAGE_ERROR"
	CodeRateLimited    ErrorCode = "RATE_LIMITED"
	CodeInvalidCommand ErrorCode = "INVALID_COMMAND"
)

// inboundMessage is the envelope read from clients.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outboundMessage is the envelope written to clients.
type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ChatCommand is the payload of a chat_command message.
type ChatCommand struct {
	Command   string `json:"command"`
	Timestamp int64  `json:"timestamp"`
}

// CommandStatus reports progress of one command.
type CommandStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
	Command   string    `json:"command,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// ProcessingStep is a progress notification sent before the result.
type ProcessingStep struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// APIResponse carries the result of a command. ID is the server-assigned
// message id clients can use to de-duplicate.
type APIResponse struct {
	ID              string          `json:"id"`
	Command         string          `json:"command"`
	Result          string          `json:"result"`
	API             domain.Provider `json:"api"`
	Timestamp       int64           `json:"timestamp"`
	ClientTimestamp int64           `json:"clientTimestamp,omitempty"`
	ProcessingTime  int64           `json:"processingTime"`
	Success         bool            `json:"success"`
	Error           bool            `json:"error,omitempty"`
}

// TypingIndicator tells the client whether its command is being processed.
type TypingIndicator struct {
	IsProcessing bool `json:"isProcessing"`
}

// UserTyping is the presence broadcast for another session.
type UserTyping struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// SystemNotification is broadcast to every connected session.
type SystemNotification struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

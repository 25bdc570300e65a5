package api

import "time"

// MessageType distinguishes who authored a message
type MessageType string

const (
	MessageTypeUser      MessageType = "USER"
	MessageTypeAssistant MessageType = "ASSISTANT"
	MessageTypeSystem    MessageType = "SYSTEM"
)

// Chat is a conversation as stored by the server
type Chat struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Active       bool      `json:"active"`
	ModelName    string    `json:"modelName"`
	MessageCount int       `json:"messageCount"`
}

// Message is a single chat message. Server-assigned messages carry persisted
// ids; messages created client-side during a streaming exchange carry
// temporary ids ("temp-" / "temp-assistant-" prefixes) until the next
// history reload supersedes them.
type Message struct {
	ID             string       `json:"id"`
	ChatID         string       `json:"chatId"`
	Type           MessageType  `json:"type"`
	Content        string       `json:"content"`
	Timestamp      time.Time    `json:"timestamp"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	SequenceNumber int          `json:"sequenceNumber,omitempty"`
}

// Attachment describes a file attached to a message
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// Page is the server's paginated list envelope. An absent content array is
// treated as an empty page, not an error.
type Page[T any] struct {
	Content    []T `json:"content"`
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
}

// IsEmpty reports whether the page carries no items
func (p Page[T]) IsEmpty() bool {
	return len(p.Content) == 0
}

// PromptAttachment is a file to upload alongside a prompt
type PromptAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// PromptRequest is the multipart payload for the streaming prompt endpoint
type PromptRequest struct {
	Model       string
	Prompt      string
	Role        string
	ChatID      string
	Attachments []PromptAttachment
}

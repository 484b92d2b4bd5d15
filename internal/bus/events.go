package bus

import "time"

// Well-known metadata keys.
const (
	MetaKeySchedulerJob = "scheduler_job"
	MetaKeyHeartbeat    = "heartbeat"
	MetaKeyProactive    = "proactive"
)

// Attachment types understood by the agent loop.
const (
	AttachmentImage = "image"
	AttachmentAudio = "audio"
	AttachmentFile  = "file"
)

// Attachment is media carried alongside an inbound message.
type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// InboundMessage represents a message from a producer to the agent.
// ChatID is the conversation key and the sole sharding key for sessions.
type InboundMessage struct {
	Channel     string         `json:"channel"`
	ChatID      string         `json:"chat_id"`
	SenderID    string         `json:"sender_id"`
	SenderName  string         `json:"sender_name,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// SessionKey returns the conversation key used to look up the session.
func (m *InboundMessage) SessionKey() string {
	return m.ChatID
}

// OutboundMessage represents a reply from the agent to a channel.
type OutboundMessage struct {
	Channel   string         `json:"channel"`
	ChatID    string         `json:"chat_id"`
	TraceID   string         `json:"trace_id,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

package timeline

import (
	"time"
)

// Schema creates the timeline tables. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS timeline (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT UNIQUE,
	trace_id TEXT,
	span_id TEXT,
	parent_span_id TEXT,
	timestamp DATETIME NOT NULL,
	channel TEXT NOT NULL DEFAULT '',
	chat_id TEXT NOT NULL DEFAULT '',
	sender_id TEXT NOT NULL,
	sender_name TEXT,
	event_type TEXT NOT NULL,
	content_text TEXT,
	media_path TEXT,
	classification TEXT,
	metadata TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_timeline_timestamp ON timeline(timestamp);
CREATE INDEX IF NOT EXISTS idx_timeline_trace ON timeline(trace_id);
CREATE INDEX IF NOT EXISTS idx_timeline_chat ON timeline(channel, chat_id);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT UNIQUE NOT NULL,
	trace_id TEXT,
	channel TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	sender_id TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	content_in TEXT,
	content_out TEXT,
	error_text TEXT,
	iterations INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_trace ON tasks(trace_id);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_name TEXT UNIQUE NOT NULL,
	last_status TEXT NOT NULL DEFAULT '',
	last_run_at DATETIME,
	run_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Event types.
const (
	EventInbound  = "INBOUND"
	EventOutbound = "OUTBOUND"
	EventSystem   = "SYSTEM"
)

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// TimelineEvent represents a single interaction in the history.
type TimelineEvent struct {
	ID             int64     `json:"id"`
	EventID        string    `json:"event_id"`
	TraceID        string    `json:"trace_id"`
	SpanID         string    `json:"span_id"`
	ParentSpanID   string    `json:"parent_span_id"`
	Timestamp      time.Time `json:"timestamp"`
	Channel        string    `json:"channel"`
	ChatID         string    `json:"chat_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	EventType      string    `json:"event_type"`     // INBOUND, OUTBOUND, SYSTEM
	ContentText    string    `json:"content_text"`   // Text or transcript
	MediaPath      string    `json:"media_path"`     // Local attachment path if any
	Classification string    `json:"classification"` // LLM, TOOL, COMMAND, ...
	Metadata       string    `json:"metadata,omitempty"`
}

// AgentTask tracks one agent turn from inbound message to reply.
type AgentTask struct {
	ID               int64      `json:"id"`
	TaskID           string     `json:"task_id"`
	TraceID          string     `json:"trace_id,omitempty"`
	Channel          string     `json:"channel"`
	ChatID           string     `json:"chat_id"`
	SenderID         string     `json:"sender_id,omitempty"`
	Status           string     `json:"status"`
	ContentIn        string     `json:"content_in,omitempty"`
	ContentOut       string     `json:"content_out,omitempty"`
	ErrorText        string     `json:"error_text,omitempty"`
	Iterations       int        `json:"iterations"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// ScheduledJobRecord represents persisted scheduler job state.
type ScheduledJobRecord struct {
	ID         int64     `json:"id"`
	JobName    string    `json:"job_name"`
	LastStatus string    `json:"last_status"`
	LastRunAt  time.Time `json:"last_run_at"`
	RunCount   int       `json:"run_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

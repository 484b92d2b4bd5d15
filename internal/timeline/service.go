package timeline

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TimelineService records conversation events, agent turns and scheduler
// runs in a local SQLite database.
type TimelineService struct {
	db *sql.DB
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create timeline dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &TimelineService{db: db}, nil
}

func (s *TimelineService) DB() *sql.DB {
	return s.db
}

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// AddEvent inserts an event. An empty EventID is generated and a zero
// Timestamp is set to now; duplicate EventIDs are ignored.
func (s *TimelineService) AddEvent(evt *TimelineEvent) error {
	if evt.EventID == "" {
		evt.EventID = "EVT_" + newID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	query := `
	INSERT INTO timeline (event_id, trace_id, span_id, parent_span_id, timestamp, channel, chat_id, sender_id, sender_name, event_type, content_text, media_path, classification, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_id) DO NOTHING
	`
	_, err := s.db.Exec(query,
		evt.EventID,
		evt.TraceID,
		evt.SpanID,
		evt.ParentSpanID,
		evt.Timestamp,
		evt.Channel,
		evt.ChatID,
		evt.SenderID,
		evt.SenderName,
		evt.EventType,
		evt.ContentText,
		evt.MediaPath,
		evt.Classification,
		evt.Metadata,
	)
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	return nil
}

type FilterArgs struct {
	Channel   string
	ChatID    string
	SenderID  string
	TraceID   string
	EventType string
	Limit     int
	Offset    int
	StartDate *time.Time
	EndDate   *time.Time
}

// GetEvents returns events matching filter, newest first.
func (s *TimelineService) GetEvents(filter FilterArgs) ([]TimelineEvent, error) {
	query := `SELECT id, event_id, COALESCE(trace_id,''), COALESCE(span_id,''), COALESCE(parent_span_id,''), timestamp,
		channel, chat_id, sender_id, COALESCE(sender_name,''), event_type, COALESCE(content_text,''),
		COALESCE(media_path,''), COALESCE(classification,''), COALESCE(metadata,'')
	FROM timeline WHERE 1=1`
	args := []interface{}{}

	if filter.Channel != "" {
		query += " AND channel = ?"
		args = append(args, filter.Channel)
	}
	if filter.ChatID != "" {
		query += " AND chat_id = ?"
		args = append(args, filter.ChatID)
	}
	if filter.SenderID != "" {
		query += " AND sender_id = ?"
		args = append(args, filter.SenderID)
	}
	if filter.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, filter.TraceID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.StartDate != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		query += " AND timestamp <= ?"
		args = append(args, *filter.EndDate)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TimelineEvent
	for rows.Next() {
		var e TimelineEvent
		err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.TraceID,
			&e.SpanID,
			&e.ParentSpanID,
			&e.Timestamp,
			&e.Channel,
			&e.ChatID,
			&e.SenderID,
			&e.SenderName,
			&e.EventType,
			&e.ContentText,
			&e.MediaPath,
			&e.Classification,
			&e.Metadata,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// CreateTask inserts a new agent task. TaskID is generated if empty.
func (s *TimelineService) CreateTask(task *AgentTask) (*AgentTask, error) {
	if task.TaskID == "" {
		task.TaskID = "task-" + newID()
	}
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	query := `
	INSERT INTO tasks (task_id, trace_id, channel, chat_id, sender_id, status, content_in)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query,
		task.TaskID,
		task.TraceID,
		task.Channel,
		task.ChatID,
		task.SenderID,
		task.Status,
		task.ContentIn,
	); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return s.GetTask(task.TaskID)
}

const taskColumns = `id, task_id, COALESCE(trace_id,''), channel, chat_id, COALESCE(sender_id,''), status,
	COALESCE(content_in,''), COALESCE(content_out,''), COALESCE(error_text,''),
	iterations, prompt_tokens, completion_tokens, total_tokens,
	created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*AgentTask, error) {
	var t AgentTask
	var completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.TaskID, &t.TraceID, &t.Channel, &t.ChatID, &t.SenderID, &t.Status,
		&t.ContentIn, &t.ContentOut, &t.ErrorText,
		&t.Iterations, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// GetTask returns a task by task_id.
func (s *TimelineService) GetTask(taskID string) (*AgentTask, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus updates a task's status, content_out, and error_text.
func (s *TimelineService) UpdateTaskStatus(taskID, status, contentOut, errorText string) error {
	query := `UPDATE tasks SET status = ?, content_out = ?, error_text = ?, updated_at = datetime('now')`
	if status == TaskStatusCompleted || status == TaskStatusFailed {
		query += `, completed_at = datetime('now')`
	}
	query += ` WHERE task_id = ?`
	_, err := s.db.Exec(query, status, contentOut, errorText, taskID)
	return err
}

// AddTaskUsage adds one model call's token usage to a task.
func (s *TimelineService) AddTaskUsage(taskID string, prompt, completion, total int) error {
	_, err := s.db.Exec(`UPDATE tasks SET
		iterations = iterations + 1,
		prompt_tokens = prompt_tokens + ?,
		completion_tokens = completion_tokens + ?,
		total_tokens = total_tokens + ?,
		updated_at = datetime('now')
	WHERE task_id = ?`, prompt, completion, total, taskID)
	return err
}

// ListTasks returns tasks filtered by optional status and channel, newest first.
func (s *TimelineService) ListTasks(status, channel string, limit int) ([]AgentTask, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if channel != "" {
		query += " AND channel = ?"
		args = append(args, channel)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []AgentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpsertScheduledJob records one scheduler run for jobName.
func (s *TimelineService) UpsertScheduledJob(jobName, status string, runAt time.Time) error {
	_, err := s.db.Exec(`
	INSERT INTO scheduled_jobs (job_name, last_status, last_run_at, run_count, updated_at)
	VALUES (?, ?, ?, 1, datetime('now'))
	ON CONFLICT(job_name) DO UPDATE SET
		last_status = excluded.last_status,
		last_run_at = excluded.last_run_at,
		run_count = scheduled_jobs.run_count + 1,
		updated_at = datetime('now')
	`, jobName, status, runAt)
	return err
}

// GetScheduledJob returns the persisted state for jobName, or nil when the
// job has never run.
func (s *TimelineService) GetScheduledJob(jobName string) (*ScheduledJobRecord, error) {
	var rec ScheduledJobRecord
	var lastRun sql.NullTime
	err := s.db.QueryRow(`SELECT id, job_name, last_status, last_run_at, run_count, created_at, updated_at
		FROM scheduled_jobs WHERE job_name = ?`, jobName).Scan(
		&rec.ID, &rec.JobName, &rec.LastStatus, &lastRun, &rec.RunCount, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		rec.LastRunAt = lastRun.Time
	}
	return &rec, nil
}

// ListScheduledJobs returns all job records, most recently updated first.
func (s *TimelineService) ListScheduledJobs() ([]ScheduledJobRecord, error) {
	rows, err := s.db.Query(`SELECT id, job_name, last_status, last_run_at, run_count, created_at, updated_at
		FROM scheduled_jobs ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledJobRecord
	for rows.Next() {
		var rec ScheduledJobRecord
		var lastRun sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.JobName, &rec.LastStatus, &lastRun, &rec.RunCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			rec.LastRunAt = lastRun.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

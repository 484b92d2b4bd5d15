package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bigknoxy/joshbot/internal/scheduler"
)

// JobScheduler is the subset of scheduler.Service the cron tool drives.
type JobScheduler interface {
	CreateJob(spec scheduler.JobSpec) (*scheduler.Job, error)
	DeleteJob(id string) bool
	ListJobs() []scheduler.Job
}

// CronTool schedules reminders and recurring tasks.
type CronTool struct {
	jobs JobScheduler
}

// NewCronTool creates a CronTool backed by jobs.
func NewCronTool(jobs JobScheduler) *CronTool {
	return &CronTool{jobs: jobs}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Schedule a reminder or recurring task. Supports one-time delays ('30m', '2h', '1d') and cron expressions ('0 9 * * 1-5')."
}

func (t *CronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"create", "list", "delete"},
				"description": "Action to perform",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Name of the scheduled task",
			},
			"schedule": map[string]any{
				"type":        "string",
				"description": "Cron expression (e.g. '*/5 * * * *') or delay (e.g. '30m', '2h', '1d')",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message delivered to the agent when the task fires",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Channel to deliver to; defaults to the current channel",
			},
			"chat_id": map[string]any{
				"type":        "string",
				"description": "Conversation key to deliver to; defaults to the current conversation",
			},
			"job_id": map[string]any{
				"type":        "string",
				"description": "Job ID (for delete)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.jobs == nil {
		return "Error: scheduler not available", nil
	}

	switch action := GetString(params, "action", ""); action {
	case "create":
		origin, _ := OriginFrom(ctx)
		name := GetString(params, "name", "Unnamed task")
		schedule := GetString(params, "schedule", "")
		if schedule == "" {
			return "Error: schedule is required for create", nil
		}
		spec := scheduler.JobSpec{
			Name:     name,
			Schedule: schedule,
			Message:  GetString(params, "message", name),
			Channel:  GetString(params, "channel", defaultString(origin.Channel, "cli")),
			ChatID:   GetString(params, "chat_id", defaultString(origin.ChatID, "cli:direct")),
		}
		job, err := t.jobs.CreateJob(spec)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		return fmt.Sprintf("Scheduled: '%s' (id: %s, schedule: %s, next: %s)",
			job.Name, job.ID, job.Schedule, job.NextRun.UTC().Format(time.RFC3339)), nil

	case "list":
		jobs := t.jobs.ListJobs()
		if len(jobs) == 0 {
			return "No scheduled tasks.", nil
		}
		var sb strings.Builder
		sb.WriteString("Scheduled tasks:\n")
		for _, j := range jobs {
			fmt.Fprintf(&sb, "- %s (id: %s, schedule: %s, next: %s)\n",
				j.Name, j.ID, j.Schedule, j.NextRun.UTC().Format(time.RFC3339))
		}
		return strings.TrimSpace(sb.String()), nil

	case "delete":
		id := GetString(params, "job_id", "")
		if id == "" {
			return "Error: job_id is required for delete", nil
		}
		if t.jobs.DeleteJob(id) {
			return fmt.Sprintf("Deleted job %s", id), nil
		}
		return fmt.Sprintf("Job %s not found", id), nil

	default:
		return fmt.Sprintf("Error: unknown action %q", action), nil
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

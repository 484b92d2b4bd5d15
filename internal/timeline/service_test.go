package timeline

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestTimeline(t *testing.T) *TimelineService {
	t.Helper()
	svc, err := NewTimelineService(filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("open timeline: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAddAndFilterEvents(t *testing.T) {
	svc := newTestTimeline(t)
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	events := []TimelineEvent{
		{EventID: "e1", TraceID: "t1", Timestamp: base, Channel: "cli", ChatID: "direct", SenderID: "user", EventType: EventInbound, ContentText: "hi"},
		{EventID: "e2", TraceID: "t1", Timestamp: base.Add(time.Second), Channel: "cli", ChatID: "direct", SenderID: "AGENT", EventType: EventOutbound, ContentText: "hello"},
		{EventID: "e3", TraceID: "t2", Timestamp: base.Add(2 * time.Second), Channel: "slack", ChatID: "C1", SenderID: "U1", EventType: EventInbound, ContentText: "yo"},
	}
	for i := range events {
		if err := svc.AddEvent(&events[i]); err != nil {
			t.Fatalf("AddEvent: %v", err)
		}
	}
	// Duplicate event IDs are ignored.
	if err := svc.AddEvent(&TimelineEvent{EventID: "e1", SenderID: "user", EventType: EventInbound}); err != nil {
		t.Fatalf("duplicate AddEvent: %v", err)
	}

	all, err := svc.GetEvents(FilterArgs{})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].EventID != "e3" {
		t.Errorf("expected newest first, got %s", all[0].EventID)
	}

	byTrace, _ := svc.GetEvents(FilterArgs{TraceID: "t1"})
	if len(byTrace) != 2 {
		t.Errorf("expected 2 events for trace t1, got %d", len(byTrace))
	}
	byChat, _ := svc.GetEvents(FilterArgs{Channel: "slack", ChatID: "C1"})
	if len(byChat) != 1 || byChat[0].ContentText != "yo" {
		t.Errorf("unexpected chat filter result %+v", byChat)
	}
	paged, _ := svc.GetEvents(FilterArgs{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].EventID != "e2" {
		t.Errorf("unexpected page %+v", paged)
	}
}

func TestAddEventGeneratesID(t *testing.T) {
	svc := newTestTimeline(t)
	evt := &TimelineEvent{SenderID: "AGENT", EventType: EventSystem, Classification: "LLM"}
	if err := svc.AddEvent(evt); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if evt.EventID == "" || evt.Timestamp.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", evt)
	}
}

func TestTaskLifecycle(t *testing.T) {
	svc := newTestTimeline(t)

	task, err := svc.CreateTask(&AgentTask{Channel: "cli", ChatID: "direct", ContentIn: "hello"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != TaskStatusPending || task.TaskID == "" {
		t.Fatalf("unexpected task %+v", task)
	}

	if err := svc.AddTaskUsage(task.TaskID, 10, 5, 15); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddTaskUsage(task.TaskID, 20, 5, 25); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateTaskStatus(task.TaskID, TaskStatusCompleted, "hi there", ""); err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Iterations != 2 || got.TotalTokens != 40 || got.PromptTokens != 30 {
		t.Errorf("unexpected usage %+v", got)
	}
	if got.Status != TaskStatusCompleted || got.CompletedAt == nil || got.ContentOut != "hi there" {
		t.Errorf("unexpected completion %+v", got)
	}

	list, err := svc.ListTasks(TaskStatusCompleted, "cli", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTasks = %v, %v", list, err)
	}
	if _, err := svc.GetTask("missing"); err == nil {
		t.Error("expected error for missing task")
	}
}

func TestScheduledJobs(t *testing.T) {
	svc := newTestTimeline(t)

	rec, err := svc.GetScheduledJob("standup")
	if err != nil || rec != nil {
		t.Fatalf("expected no record, got %+v, %v", rec, err)
	}

	run := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := svc.UpsertScheduledJob("standup", "ok", run); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpsertScheduledJob("standup", "dropped", run.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	rec, err = svc.GetScheduledJob("standup")
	if err != nil || rec == nil {
		t.Fatalf("GetScheduledJob: %+v, %v", rec, err)
	}
	if rec.RunCount != 2 || rec.LastStatus != "dropped" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.LastRunAt.Equal(run.Add(time.Hour)) {
		t.Errorf("unexpected last run %v", rec.LastRunAt)
	}

	svc.UpsertScheduledJob("backup", "ok", run)
	all, err := svc.ListScheduledJobs()
	if err != nil || len(all) != 2 {
		t.Fatalf("ListScheduledJobs = %v, %v", all, err)
	}
}

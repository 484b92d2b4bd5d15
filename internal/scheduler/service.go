package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/bigknoxy/joshbot/internal/bus"
)

const (
	jobsFile     = "jobs.json"
	runLockFile  = "scheduler.lock"
	editLockFile = "jobs.lock"
	editLockWait = 5 * time.Second
)

// ErrLocked is returned by Start when another process already runs the
// scheduler for the same directory.
var ErrLocked = errors.New("scheduler already running for this directory")

// Job is a persisted scheduled task.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	NextRun   time.Time `json:"next_run"`
	Recurring bool      `json:"recurring"`
	CreatedAt time.Time `json:"created_at"`
}

// JobSpec describes a job to create.
type JobSpec struct {
	Name     string
	Schedule string
	Message  string
	Channel  string
	ChatID   string
}

// InboundPublisher accepts synthetic inbound messages.
type InboundPublisher interface {
	PublishInbound(msg *bus.InboundMessage) bool
}

// RunRecorder persists job run outcomes. The timeline service implements it.
type RunRecorder interface {
	UpsertScheduledJob(jobName, status string, runAt time.Time) error
}

// Service owns the job table, its persistence and one timer goroutine per job.
type Service struct {
	dir      string
	bus      InboundPublisher
	recorder RunRecorder
	lock     *fileLock
	editLock *fileLock

	// synced holds the IDs present in jobs.json at the last read or write;
	// removed holds local deletions not yet written.
	mu      sync.Mutex
	jobs    map[string]*Job
	synced  map[string]bool
	removed map[string]bool
	tasks   map[string]context.CancelFunc
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewService creates a scheduler persisting to <dir>/jobs.json.
func NewService(dir string, b InboundPublisher) *Service {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Scheduler directory unavailable", "dir", dir, "error", err)
	}
	s := &Service{
		dir:      dir,
		bus:      b,
		lock:     newFileLock(filepath.Join(dir, runLockFile), false),
		editLock: newFileLock(filepath.Join(dir, editLockFile), true),
		jobs:     make(map[string]*Job),
		synced:   make(map[string]bool),
		removed:  make(map[string]bool),
		tasks:    make(map[string]context.CancelFunc),
		now:      time.Now,
		after:    time.After,
	}
	s.load()
	return s
}

// SetRecorder attaches a run recorder.
func (s *Service) SetRecorder(r RunRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// Start reloads jobs.json, schedules every job and watches the file for
// jobs other processes add or remove. It returns ErrLocked when another
// process holds the scheduler lock for the directory.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.lock.acquire(); err != nil {
		if errors.Is(err, ErrLocked) {
			return err
		}
		return fmt.Errorf("scheduler lock: %w", err)
	}

	s.loadLocked()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, job := range s.jobs {
		s.scheduleLocked(job)
	}
	s.watchLocked()
	slog.Info("Scheduler started", "jobs", len(s.jobs), "dir", s.dir)
	return nil
}

// watchLocked reloads jobs.json whenever it changes. s.mu must be held.
func (s *Service) watchLocked() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("Jobs file watch unavailable", "error", err)
		return
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		slog.Warn("Jobs file watch unavailable", "dir", s.dir, "error", err)
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != jobsFile || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
					continue
				}
				if err := s.Reload(); err != nil {
					slog.Warn("Jobs reload failed", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("Jobs file watch error", "error", err)
			}
		}
	}()
}

// Reload merges jobs.json into memory: jobs written by another process are
// adopted (and scheduled when running), jobs it removed are cancelled.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lockEdits(); err != nil {
		return err
	}
	defer s.editLock.release()

	disk, err := s.readJobs()
	if err != nil {
		return err
	}
	s.mergeLocked(disk)
	s.synced = make(map[string]bool, len(disk))
	for id := range disk {
		if !s.removed[id] {
			s.synced[id] = true
		}
	}
	return nil
}

// Stop cancels every job task and waits for them to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.tasks = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	s.wg.Wait()
	if err := s.lock.release(); err != nil {
		slog.Warn("Scheduler unlock failed", "error", err)
	}
	slog.Info("Scheduler stopped")
}

// Running reports whether job tasks are active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CreateJob validates the schedule, persists the job and schedules it.
func (s *Service) CreateJob(spec JobSpec) (*Job, error) {
	spec.Schedule = strings.TrimSpace(spec.Schedule)
	if spec.Name == "" {
		spec.Name = "Unnamed task"
	}
	if spec.Message == "" {
		spec.Message = spec.Name
	}
	if spec.Channel == "" || spec.ChatID == "" {
		return nil, fmt.Errorf("job %q: channel and chat id are required", spec.Name)
	}

	now := s.now()
	next, recurring, err := firstRun(spec.Schedule, now)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Name:      spec.Name,
		Schedule:  spec.Schedule,
		Message:   spec.Message,
		Channel:   spec.Channel,
		ChatID:    spec.ChatID,
		NextRun:   next,
		Recurring: recurring,
		CreatedAt: now.UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	if err := s.saveLocked(); err != nil {
		delete(s.jobs, job.ID)
		return nil, err
	}
	if s.running {
		s.scheduleLocked(job)
	}
	slog.Info("Scheduled job created", "id", job.ID, "name", job.Name, "schedule", job.Schedule, "next_run", job.NextRun)
	out := *job
	return &out, nil
}

// DeleteJob cancels and removes a job. It reports whether the job existed,
// here or in jobs.json.
func (s *Service) DeleteJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		if disk, err := s.readJobs(); err == nil {
			s.mergeLocked(disk)
		}
	}
	return s.deleteLocked(id)
}

func (s *Service) deleteLocked(id string) bool {
	if cancel, ok := s.tasks[id]; ok {
		cancel()
		delete(s.tasks, id)
	}
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	s.removed[id] = true
	if err := s.saveLocked(); err != nil {
		slog.Error("Failed to persist job deletion", "id", id, "error", err)
	}
	slog.Info("Scheduled job deleted", "id", id)
	return true
}

// ListJobs returns a snapshot of all jobs ordered by next run.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].NextRun.Before(out[k].NextRun) })
	return out
}

// Path returns the jobs file location.
func (s *Service) Path() string {
	return filepath.Join(s.dir, jobsFile)
}

// firstRun computes the first fire time of schedule relative to now.
func firstRun(schedule string, now time.Time) (time.Time, bool, error) {
	if IsDelay(schedule) {
		d, err := ParseDelay(schedule)
		if err != nil {
			return time.Time{}, false, err
		}
		return now.Add(d), false, nil
	}
	expr, err := ParseCron(schedule)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %q is neither a delay nor a cron expression: %v", ErrInvalidSchedule, schedule, err)
	}
	next := expr.Next(now)
	if next.IsZero() {
		return time.Time{}, false, fmt.Errorf("%w: %q never fires", ErrInvalidSchedule, schedule)
	}
	return next, true, nil
}

// scheduleLocked starts the timer goroutine for job. s.mu must be held.
func (s *Service) scheduleLocked(job *Job) {
	if cancel, ok := s.tasks[job.ID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.tasks[job.ID] = cancel

	var expr *CronExpr
	if job.Recurring {
		var err error
		if expr, err = ParseCron(job.Schedule); err != nil {
			slog.Error("Skipping job with invalid schedule", "id", job.ID, "schedule", job.Schedule, "error", err)
			cancel()
			delete(s.tasks, job.ID)
			return
		}
		// Missed recurring slots are skipped rather than replayed.
		if now := s.now(); job.NextRun.Before(now) {
			job.NextRun = expr.Next(now)
		}
	}

	s.wg.Add(1)
	go s.run(ctx, job.ID, expr)
}

func (s *Service) run(ctx context.Context, id string, expr *CronExpr) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		job, ok := s.jobs[id]
		if !ok {
			s.mu.Unlock()
			return
		}
		wait := job.NextRun.Sub(s.now())
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
		}
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		job, ok = s.jobs[id]
		if !ok {
			s.mu.Unlock()
			return
		}
		snapshot := *job
		s.mu.Unlock()

		s.fire(snapshot)

		s.mu.Lock()
		if expr == nil {
			s.deleteLocked(id)
			s.mu.Unlock()
			return
		}
		if job, ok = s.jobs[id]; ok {
			job.NextRun = expr.Next(s.now())
			if err := s.saveLocked(); err != nil {
				slog.Error("Failed to persist next run", "id", id, "error", err)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Service) fire(job Job) {
	now := s.now()
	slog.Info("Scheduled job firing", "id", job.ID, "name", job.Name, "channel", job.Channel, "chat_id", job.ChatID)

	ok := s.bus.PublishInbound(&bus.InboundMessage{
		Channel:    job.Channel,
		ChatID:     job.ChatID,
		SenderID:   "scheduler",
		SenderName: "Cron: " + job.Name,
		TraceID:    uuid.NewString(),
		Content:    fmt.Sprintf("[Scheduled Task: %s] %s", job.Name, job.Message),
		Metadata: map[string]any{
			bus.MetaKeySchedulerJob: job.ID,
			"scheduler_tick":        now.UTC().Format(time.RFC3339),
		},
		Timestamp: now,
	})

	status := "dispatched"
	if !ok {
		status = "dropped_queue_full"
	}
	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec != nil {
		if err := rec.UpsertScheduledJob(job.Name, status, now); err != nil {
			slog.Debug("Job run record failed", "job", job.Name, "error", err)
		}
	}
}

func (s *Service) load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
}

// loadLocked replaces the job table with jobs.json. An unreadable file
// leaves the table as it is.
func (s *Service) loadLocked() {
	jobs, err := s.readJobs()
	if err != nil {
		slog.Error("Failed to load jobs file", "path", s.Path(), "error", err)
		return
	}
	s.jobs = jobs
	s.synced = make(map[string]bool, len(jobs))
	for id := range jobs {
		s.synced[id] = true
	}
	s.removed = make(map[string]bool)
}

// readJobs parses jobs.json. A missing file is an empty table.
func (s *Service) readJobs() (map[string]*Job, error) {
	jobs := make(map[string]*Job)
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return jobs, nil
		}
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	var list []*Job
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse jobs: %w", err)
	}
	for _, j := range list {
		if j != nil && j.ID != "" {
			jobs[j.ID] = j
		}
	}
	return jobs, nil
}

// mergeLocked folds the on-disk table into memory. Jobs unknown here and
// not deleted here are adopted; jobs this process saw on disk that are now
// gone were removed elsewhere and are cancelled. s.mu must be held.
func (s *Service) mergeLocked(disk map[string]*Job) {
	for id, job := range disk {
		if _, ok := s.jobs[id]; ok || s.removed[id] {
			continue
		}
		s.jobs[id] = job
		if s.running {
			s.scheduleLocked(job)
		}
		slog.Info("Scheduled job picked up", "id", id, "name", job.Name, "next_run", job.NextRun)
	}
	for id := range s.jobs {
		if _, ok := disk[id]; ok || !s.synced[id] {
			continue
		}
		if cancel, ok := s.tasks[id]; ok {
			cancel()
			delete(s.tasks, id)
		}
		delete(s.jobs, id)
		delete(s.synced, id)
		slog.Info("Scheduled job removed elsewhere", "id", id)
	}
}

// lockEdits takes the jobs.json edit lock shared by every process using
// this directory, waiting up to editLockWait.
func (s *Service) lockEdits() error {
	deadline := time.Now().Add(editLockWait)
	for {
		err := s.editLock.acquire()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLocked) || time.Now().After(deadline) {
			return fmt.Errorf("jobs lock: %w", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// saveLocked merges concurrent changes from jobs.json and rewrites it under
// the edit lock. s.mu must be held.
func (s *Service) saveLocked() error {
	if err := s.lockEdits(); err != nil {
		return err
	}
	defer s.editLock.release()

	if disk, err := s.readJobs(); err != nil {
		slog.Error("Jobs file unreadable; rewriting from memory", "path", s.Path(), "error", err)
	} else {
		s.mergeLocked(disk)
	}

	list := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		list = append(list, j)
	}
	sort.Slice(list, func(i, k int) bool { return list[i].CreatedAt.Before(list[k].CreatedAt) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	path := s.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write jobs: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace jobs: %w", err)
	}
	s.synced = make(map[string]bool, len(s.jobs))
	for id := range s.jobs {
		s.synced[id] = true
	}
	s.removed = make(map[string]bool)
	return nil
}

package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigknoxy/joshbot/internal/bus"
	"github.com/bigknoxy/joshbot/internal/config"
	"github.com/bigknoxy/joshbot/internal/memory"
	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/session"
	"github.com/bigknoxy/joshbot/internal/timeline"
	"github.com/bigknoxy/joshbot/internal/tools"
	"github.com/google/uuid"
)

const (
	maxIterationsReply = "I've been working on this for a while. Here's what I found so far - let me know if you'd like me to continue."
	errorReplyPrefix   = "Sorry, I encountered an error: "
	maxErrorReasonLen  = 200
	maxImageBytes      = 10 << 20
)

// LoopOptions configures the agent loop. Zero values fall back to the
// configuration defaults.
type LoopOptions struct {
	Bus      *bus.MessageBus
	Provider provider.LLMProvider
	Timeline *timeline.TimelineService
	Sessions *session.Manager
	Memory   *memory.Store
	Skills   SkillsSummarizer
	// Scheduler backs the cron tool; nil leaves it unregistered.
	Scheduler tools.JobScheduler
	// Registry replaces the default tool set when non-nil.
	Registry *tools.Registry

	Workspace           string
	Model               string
	MaxTokens           int
	Temperature         float64
	MaxIterations       int
	MemoryWindow        int
	SubagentIterations  int
	ExecTimeout         time.Duration
	RestrictToWorkspace bool
	Web                 tools.WebOptions
}

// Loop is the core agent processing engine.
type Loop struct {
	bus            *bus.MessageBus
	provider       provider.LLMProvider
	timeline       *timeline.TimelineService
	registry       *tools.Registry
	sessions       *session.Manager
	memory         *memory.Store
	contextBuilder *ContextBuilder
	consolidator   *Consolidator
	subagents      *SubagentRunner
	scheduler      tools.JobScheduler

	workspace           string
	model               string
	maxTokens           int
	temperature         float64
	maxIterations       int
	memoryWindow        int
	execTimeout         time.Duration
	restrictToWorkspace bool
	web                 tools.WebOptions
}

// NewLoop creates a new agent loop.
func NewLoop(opts LoopOptions) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = config.DefaultMaxToolIterations
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = config.DefaultMaxTokens
	}
	if opts.MemoryWindow <= 0 {
		opts.MemoryWindow = config.DefaultMemoryWindow
	}
	if opts.Model == "" && opts.Provider != nil {
		opts.Model = opts.Provider.DefaultModel()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(filepath.Join(opts.Workspace, "sessions"), 0)
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewStore(opts.Workspace)
	}

	l := &Loop{
		bus:                 opts.Bus,
		provider:            opts.Provider,
		timeline:            opts.Timeline,
		registry:            opts.Registry,
		sessions:            opts.Sessions,
		memory:              opts.Memory,
		scheduler:           opts.Scheduler,
		workspace:           opts.Workspace,
		model:               opts.Model,
		maxTokens:           opts.MaxTokens,
		temperature:         opts.Temperature,
		maxIterations:       opts.MaxIterations,
		memoryWindow:        opts.MemoryWindow,
		execTimeout:         opts.ExecTimeout,
		restrictToWorkspace: opts.RestrictToWorkspace,
		web:                 opts.Web,
	}
	if l.registry == nil {
		l.registry = tools.NewRegistry()
		l.registerDefaultTools()
	}

	l.contextBuilder = NewContextBuilder(opts.Workspace, opts.Memory, opts.Skills, l.registry)
	l.consolidator = NewConsolidator(opts.Provider, opts.Memory, opts.Model)
	l.subagents = NewSubagentRunner(SubagentOptions{
		Provider:      opts.Provider,
		Registry:      l.registry,
		Timeline:      opts.Timeline,
		Model:         opts.Model,
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		MaxIterations: opts.SubagentIterations,
	})
	if tool, ok := l.registry.Get("spawn"); ok {
		if spawn, ok := tool.(*tools.SpawnTool); ok {
			spawn.SetSpawnFunc(l.subagents.Run)
		}
	}
	return l
}

func (l *Loop) registerDefaultTools() {
	ws := tools.Workspace{Root: l.workspace, Restrict: l.restrictToWorkspace}
	l.registry.Register(tools.NewReadFileTool(ws))
	l.registry.Register(tools.NewWriteFileTool(ws))
	l.registry.Register(tools.NewEditFileTool(ws))
	l.registry.Register(tools.NewListDirTool(ws))
	l.registry.Register(tools.NewExecTool(l.execTimeout, l.restrictToWorkspace, l.workspace))
	l.registry.Register(tools.NewRememberTool(l.memory))
	l.registry.Register(tools.NewSearchHistoryTool(l.memory))
	l.registry.Register(tools.NewWebSearchTool(l.web))
	l.registry.Register(tools.NewWebFetchTool(l.web))
	l.registry.Register(tools.NewSpawnTool(nil))
	if l.bus != nil {
		l.registry.Register(tools.NewMessageTool(l.bus))
	}
	if l.scheduler != nil {
		l.registry.Register(tools.NewCronTool(l.scheduler))
	}
}

// Registry returns the main tool registry.
func (l *Loop) Registry() *tools.Registry { return l.registry }

// Sessions returns the session manager.
func (l *Loop) Sessions() *session.Manager { return l.sessions }

// Model returns the model used for turns.
func (l *Loop) Model() string { return l.model }

// Register subscribes the loop to inbound messages on the bus.
func (l *Loop) Register() {
	l.bus.OnInbound(l.HandleInbound)
	slog.Info("Agent loop registered", "model", l.model, "tools", l.registry.Len())
}

// HandleInbound processes one inbound message and publishes exactly one
// reply. Turn failures become an apology reply rather than an error.
func (l *Loop) HandleInbound(ctx context.Context, msg *bus.InboundMessage) error {
	reply, err := l.processMessage(ctx, msg)
	if err != nil {
		slog.Error("Failed to process message", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		reply = errorReplyPrefix + shortReason(err)
	}
	l.publishReply(msg, reply)
	return nil
}

// ProcessDirect runs one turn for content outside the bus and returns the
// reply. It is used by the one-shot CLI path.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	return l.processMessage(ctx, &bus.InboundMessage{
		Channel:    "cli",
		ChatID:     sessionKey,
		SenderID:   "user",
		SenderName: "user",
		Content:    content,
		Timestamp:  time.Now(),
	})
}

func (l *Loop) publishReply(msg *bus.InboundMessage, content string) {
	if l.bus == nil {
		return
	}
	out := &bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		TraceID: msg.TraceID,
		Content: content,
	}
	if !l.bus.PublishOutbound(out) {
		slog.Error("Reply dropped", "channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

func (l *Loop) processMessage(ctx context.Context, msg *bus.InboundMessage) (string, error) {
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}
	slog.Info("Processing message", "channel", msg.Channel, "sender", msg.SenderName, "trace_id", msg.TraceID)
	l.recordEvent(msg, timeline.EventInbound, msg.Content, "")

	if reply, ok := l.handleCommand(ctx, msg); ok {
		l.recordEvent(msg, timeline.EventOutbound, reply, "COMMAND")
		return reply, nil
	}

	sess := l.sessions.GetOrCreate(msg.SessionKey())
	if sess.Len() > l.memoryWindow {
		if err := l.consolidator.Consolidate(ctx, sess, l.memoryWindow/2); err != nil {
			slog.Error("Memory consolidation failed", "session", sess.Key, "error", err)
		}
	}

	taskID := l.startTask(msg)
	userMsg := l.buildUserMessage(ctx, msg)
	messages := l.contextBuilder.BuildMessages(sess.History(), userMsg)
	sess.Append(userMsg)

	loop := &toolLoop{
		provider:      l.provider,
		registry:      l.registry,
		model:         l.model,
		maxTokens:     l.maxTokens,
		temperature:   l.temperature,
		maxIterations: l.maxIterations,
		reflect:       true,
		trace: &tracer{
			timeline: l.timeline,
			traceID:  msg.TraceID,
			taskID:   taskID,
			channel:  msg.Channel,
			chatID:   msg.ChatID,
		},
	}
	res, err := loop.run(tools.WithOrigin(ctx, msg.Channel, msg.ChatID), messages)
	if err != nil {
		l.finishTask(taskID, timeline.TaskStatusFailed, "", err)
		return "", err
	}

	for _, m := range res.Transcript {
		sess.Append(toSessionMessage(m))
	}
	reply := res.Content
	if res.Capped {
		reply = maxIterationsReply
		sess.AddMessage(session.RoleAssistant, reply)
	}

	if err := l.sessions.Save(sess); err != nil {
		slog.Error("Failed to save session", "session", sess.Key, "error", err)
	}
	l.finishTask(taskID, timeline.TaskStatusCompleted, reply, nil)
	l.recordEvent(msg, timeline.EventOutbound, reply, "")
	return reply, nil
}

// buildUserMessage turns an inbound message into a session message. Images
// become image_url parts, audio is transcribed into the text, other files are
// referenced by path.
func (l *Loop) buildUserMessage(ctx context.Context, msg *bus.InboundMessage) session.Message {
	text := msg.Content
	var images []session.ContentPart

	for _, att := range msg.Attachments {
		switch att.Type {
		case bus.AttachmentImage:
			url, err := imageURL(att)
			if err != nil {
				slog.Warn("Skipping image attachment", "path", att.Path, "error", err)
				continue
			}
			images = append(images, session.ContentPart{Type: provider.PartImage, ImageURL: url})
		case bus.AttachmentAudio:
			text = appendLine(text, l.transcribe(ctx, att))
		default:
			ref := att.Path
			if ref == "" {
				ref = att.URL
			}
			if ref != "" {
				text = appendLine(text, "[Attached file: "+ref+"]")
			}
		}
	}

	userMsg := session.Message{Role: session.RoleUser, Content: text}
	if len(images) > 0 {
		userMsg.Parts = append([]session.ContentPart{{Type: provider.PartText, Text: text}}, images...)
	}
	return userMsg
}

func (l *Loop) transcribe(ctx context.Context, att bus.Attachment) string {
	if att.Path == "" || l.provider == nil {
		return "[Voice message: not available for transcription]"
	}
	resp, err := l.provider.Transcribe(ctx, &provider.AudioRequest{FilePath: att.Path})
	if err != nil {
		slog.Warn("Transcription failed", "path", att.Path, "error", err)
		return "[Voice message: transcription failed]"
	}
	return "[Voice message transcription: " + resp.Text + "]"
}

func appendLine(text, line string) string {
	if strings.TrimSpace(text) == "" {
		return line
	}
	return text + "\n" + line
}

// imageURL returns a URL the model can fetch: the remote URL when present,
// otherwise the local file inlined as a data URL.
func imageURL(att bus.Attachment) (string, error) {
	if att.URL != "" {
		return att.URL, nil
	}
	if att.Path == "" {
		return "", errors.New("image has neither url nor path")
	}
	info, err := os.Stat(att.Path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image too large (%d bytes)", info.Size())
	}
	data, err := os.ReadFile(att.Path)
	if err != nil {
		return "", err
	}
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(att.Path))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func shortReason(err error) string {
	reason := err.Error()
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		reason = fmt.Sprintf("provider returned status %d", apiErr.StatusCode)
	}
	return truncateStr(reason, maxErrorReasonLen)
}

func (l *Loop) startTask(msg *bus.InboundMessage) string {
	if l.timeline == nil {
		return ""
	}
	task, err := l.timeline.CreateTask(&timeline.AgentTask{
		TraceID:   msg.TraceID,
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Status:    timeline.TaskStatusProcessing,
		ContentIn: msg.Content,
	})
	if err != nil {
		slog.Debug("Failed to create task", "error", err)
		return ""
	}
	return task.TaskID
}

func (l *Loop) finishTask(taskID, status, out string, runErr error) {
	if l.timeline == nil || taskID == "" {
		return
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	if err := l.timeline.UpdateTaskStatus(taskID, status, out, errText); err != nil {
		slog.Debug("Failed to update task", "task", taskID, "error", err)
	}
}

func (l *Loop) recordEvent(msg *bus.InboundMessage, eventType, content, classification string) {
	if l.timeline == nil {
		return
	}
	senderID, senderName := msg.SenderID, msg.SenderName
	if eventType == timeline.EventOutbound {
		senderID, senderName = "AGENT", "joshbot"
	}
	mediaPath := ""
	if eventType == timeline.EventInbound && len(msg.Attachments) > 0 {
		mediaPath = msg.Attachments[0].Path
	}
	err := l.timeline.AddEvent(&timeline.TimelineEvent{
		EventID:        fmt.Sprintf("%s_%s_%d", eventType, msg.TraceID, time.Now().UnixNano()),
		TraceID:        msg.TraceID,
		Channel:        msg.Channel,
		ChatID:         msg.ChatID,
		SenderID:       senderID,
		SenderName:     senderName,
		EventType:      eventType,
		ContentText:    content,
		MediaPath:      mediaPath,
		Classification: classification,
	})
	if err != nil {
		slog.Debug("Failed to record timeline event", "error", err)
	}
}

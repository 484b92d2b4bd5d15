package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bigknoxy/joshbot/internal/agent"
	"github.com/bigknoxy/joshbot/internal/bus"
	"github.com/bigknoxy/joshbot/internal/config"
	"github.com/bigknoxy/joshbot/internal/logging"
	"github.com/bigknoxy/joshbot/internal/memory"
	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/scheduler"
	"github.com/bigknoxy/joshbot/internal/session"
	"github.com/bigknoxy/joshbot/internal/skills"
	"github.com/bigknoxy/joshbot/internal/timeline"
	"github.com/bigknoxy/joshbot/internal/tools"
)

// runtime holds the components shared by the agent and gateway commands.
type runtime struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	provider  provider.LLMProvider
	timeline  *timeline.TimelineService
	sessions  *session.Manager
	memory    *memory.Store
	skills    *skills.Loader
	scheduler *scheduler.Service
	loop      *agent.Loop
	logCloser io.Closer
}

// runtimeOptions tweaks newRuntime for a command.
type runtimeOptions struct {
	// logLevel overrides cfg.Log.Level when set.
	logLevel string
	// prov replaces the configured provider; tests use it.
	prov provider.LLMProvider
}

func newRuntime(cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	logCfg := cfg.Log
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	closer, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	rt := &runtime{cfg: cfg, logCloser: closer}

	if err := cfg.EnsureDirs(); err != nil {
		rt.close()
		return nil, err
	}

	rt.provider = opts.prov
	if rt.provider == nil {
		if rt.provider, err = provider.Resolve(cfg); err != nil {
			rt.close()
			return nil, err
		}
	}

	if cfg.Timeline.Enabled {
		tl, err := timeline.NewTimelineService(cfg.TimelinePath())
		if err != nil {
			slog.Warn("Timeline disabled", "path", cfg.TimelinePath(), "error", err)
		} else {
			rt.timeline = tl
		}
	}

	defaults := cfg.Agents.Defaults
	workspace := cfg.WorkspaceDir()
	rt.bus = bus.NewMessageBus(cfg.Bus.Capacity)
	rt.sessions = session.NewManager(cfg.SessionsDir(), defaults.MaxSessionMessages)
	rt.memory = memory.NewStore(workspace)
	rt.memory.SetMaxChars(defaults.MaxMemoryChars)
	if err := rt.memory.Initialize(); err != nil {
		slog.Warn("Memory files not initialized", "error", err)
	}
	rt.skills = skills.NewLoader(workspace)
	rt.skills.Discover()
	rt.scheduler = scheduler.NewService(cfg.CronDir(), rt.bus)
	if rt.timeline != nil {
		rt.scheduler.SetRecorder(rt.timeline)
	}

	rt.loop = agent.NewLoop(agent.LoopOptions{
		Bus:                 rt.bus,
		Provider:            rt.provider,
		Timeline:            rt.timeline,
		Sessions:            rt.sessions,
		Memory:              rt.memory,
		Skills:              rt.skills,
		Scheduler:           rt.scheduler,
		Workspace:           workspace,
		Model:               rt.provider.DefaultModel(),
		MaxTokens:           defaults.MaxTokens,
		Temperature:         defaults.Temperature,
		MaxIterations:       defaults.MaxToolIterations,
		MemoryWindow:        defaults.MemoryWindow,
		SubagentIterations:  defaults.SubagentIterations,
		ExecTimeout:         time.Duration(cfg.Tools.Exec.Timeout) * time.Second,
		RestrictToWorkspace: cfg.Tools.RestrictToWorkspace,
		Web: tools.WebOptions{
			SearchAPIKey: cfg.Tools.Web.SearchAPIKey,
			Timeout:      time.Duration(cfg.Tools.Web.Timeout) * time.Second,
		},
	})
	return rt, nil
}

func (rt *runtime) close() error {
	var errs []error
	if rt.scheduler != nil {
		rt.scheduler.Stop()
	}
	if rt.timeline != nil {
		errs = append(errs, rt.timeline.Close())
	}
	if rt.logCloser != nil {
		errs = append(errs, rt.logCloser.Close())
	}
	return errors.Join(errs...)
}

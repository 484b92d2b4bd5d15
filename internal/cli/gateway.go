package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bigknoxy/joshbot/internal/channels"
	"github.com/bigknoxy/joshbot/internal/heartbeat"
	"github.com/bigknoxy/joshbot/internal/scheduler"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the agent with its channels, scheduler and heartbeat",
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt, err := newRuntime(cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	printHeader(cmd.OutOrStdout(), "joshbot gateway")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serveGateway(ctx, rt)
}

// serveGateway runs the bus, channels, scheduler and heartbeat until ctx is
// cancelled or one of them fails.
func serveGateway(ctx context.Context, rt *runtime) error {
	cfg := rt.cfg
	mgr := channels.NewManager(rt.bus)

	if cfg.Channels.Slack.Enabled {
		ch, err := channels.NewSlackChannel(cfg.Channels.Slack, rt.bus)
		if err != nil {
			return err
		}
		mgr.Register(ch)
	}
	if cfg.Channels.Kafka.Enabled {
		ch, err := channels.NewKafkaChannel(cfg.Channels.Kafka, rt.bus)
		if err != nil {
			return err
		}
		mgr.Register(ch)
	}
	if len(mgr.Names()) == 0 {
		slog.Warn("No channels enabled; only scheduled jobs and heartbeat will reach the agent")
	}
	rt.loop.Register()

	if err := rt.scheduler.Start(ctx); err != nil {
		if errors.Is(err, scheduler.ErrLocked) {
			slog.Warn("Scheduler already running elsewhere; jobs will not fire here", "dir", cfg.CronDir())
		} else {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.bus.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return mgr.Start(gctx)
	})

	if cfg.Heartbeat.Enabled {
		hb := heartbeat.NewService(heartbeat.Options{
			Workspace: cfg.WorkspaceDir(),
			Bus:       rt.bus,
			Interval:  time.Duration(cfg.Heartbeat.IntervalMinutes) * time.Minute,
			Channel:   cfg.Heartbeat.Channel,
			ChatID:    cfg.Heartbeat.ChatID,
			Watch:     true,
		})
		if err := hb.Initialize(); err != nil {
			slog.Warn("Heartbeat file not initialized", "error", err)
		}
		g.Go(func() error {
			return hb.Start(gctx)
		})
	}

	slog.Info("Gateway started",
		"model", rt.loop.Model(),
		"channels", strings.Join(mgr.Names(), ","),
		"jobs", len(rt.scheduler.ListJobs()),
		"heartbeat", cfg.Heartbeat.Enabled,
		"timeline", rt.timeline != nil)

	err := g.Wait()
	rt.scheduler.Stop()
	if stopErr := mgr.Stop(); stopErr != nil {
		slog.Warn("Channel shutdown error", "error", stopErr)
	}
	slog.Info("Gateway stopped")
	return err
}

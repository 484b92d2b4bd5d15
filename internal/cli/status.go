package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bigknoxy/joshbot/internal/config"
	"github.com/bigknoxy/joshbot/internal/heartbeat"
	"github.com/bigknoxy/joshbot/internal/provider"
	"github.com/bigknoxy/joshbot/internal/scheduler"
	"github.com/bigknoxy/joshbot/internal/session"
	"github.com/bigknoxy/joshbot/internal/skills"
	"github.com/bigknoxy/joshbot/internal/timeline"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and workspace status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "joshbot status")
	fmt.Fprintf(out, "Version:   %s\n", version)

	path := configLocation()
	_, statErr := os.Stat(path)
	if statErr == nil {
		fmt.Fprintf(out, "Config:    %s %s\n", okMark, path)
	} else {
		fmt.Fprintf(out, "Config:    %s not found (run 'joshbot onboard' first)\n", failMark)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config:    %s %v\n", failMark, err)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Validate:  %s %v\n", failMark, err)
	}

	model := cfg.Agents.Defaults.Model
	name := provider.DetectProvider(model, cfg.Providers)
	hasKey := cfg.Providers[name].APIKey != ""
	fmt.Fprintf(out, "Model:     %s\n", color.YellowString(model))
	fmt.Fprintf(out, "Provider:  %s (API key %s)\n", name, check(hasKey))

	workspace := cfg.WorkspaceDir()
	_, wsErr := os.Stat(workspace)
	fmt.Fprintf(out, "Workspace: %s %s\n", check(wsErr == nil), workspace)

	sessions := session.NewManager(cfg.SessionsDir(), 0).List()
	fmt.Fprintf(out, "Sessions:  %d\n", len(sessions))

	loader := skills.NewLoader(workspace)
	loader.Discover()
	fmt.Fprintf(out, "Skills:    %d\n", len(loader.List()))

	jobs := scheduler.NewService(cfg.CronDir(), nil).ListJobs()
	fmt.Fprintf(out, "Jobs:      %d\n", len(jobs))

	fmt.Fprintf(out, "Channels:  %s\n", enabledChannels(cfg))

	hb := "disabled"
	if cfg.Heartbeat.Enabled {
		hb = fmt.Sprintf("every %dm", cfg.Heartbeat.IntervalMinutes)
		data, err := os.ReadFile(heartbeat.NewService(heartbeat.Options{Workspace: workspace}).Path())
		if err == nil && heartbeat.HasOpenTasks(string(data)) {
			hb += ", open tasks pending"
		}
	}
	fmt.Fprintf(out, "Heartbeat: %s\n", hb)

	if cfg.Timeline.Enabled {
		printTimelineStatus(cmd, cfg)
	}
	return nil
}

func enabledChannels(cfg *config.Config) string {
	names := []string{"cli"}
	if cfg.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	if cfg.Channels.Kafka.Enabled {
		names = append(names, "kafka")
	}
	return strings.Join(names, ", ")
}

func printTimelineStatus(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	if _, err := os.Stat(cfg.TimelinePath()); err != nil {
		fmt.Fprintf(out, "Timeline:  %s no database yet\n", warnMark)
		return
	}
	tl, err := timeline.NewTimelineService(cfg.TimelinePath())
	if err != nil {
		fmt.Fprintf(out, "Timeline:  %s %v\n", failMark, err)
		return
	}
	defer tl.Close()

	tasks, err := tl.ListTasks("", "", 5)
	if err != nil {
		fmt.Fprintf(out, "Timeline:  %s %v\n", failMark, err)
		return
	}
	fmt.Fprintf(out, "Timeline:  %s %s\n", okMark, cfg.TimelinePath())
	for _, t := range tasks {
		fmt.Fprintf(out, "  %s  %-10s %-8s tokens=%d\n", t.CreatedAt.Format("2006-01-02 15:04"), t.Status, t.Channel, t.TotalTokens)
	}
	if runs, err := tl.ListScheduledJobs(); err == nil {
		for _, r := range runs {
			fmt.Fprintf(out, "  job %-20s last=%s status=%s runs=%d\n", r.JobName, r.LastRunAt.Format("2006-01-02 15:04"), r.LastStatus, r.RunCount)
		}
	}
}

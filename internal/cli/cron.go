package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigknoxy/joshbot/internal/channels"
	"github.com/bigknoxy/joshbot/internal/scheduler"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cronService()
		if err != nil {
			return err
		}
		jobs := svc.ListJobs()
		if len(jobs) == 0 {
			cmd.Println("No scheduled jobs.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tNEXT RUN\tTARGET")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s/%s\n", j.ID, j.Name, j.Schedule, j.NextRun.Local().Format("2006-01-02 15:04"), j.Channel, j.ChatID)
		}
		return tw.Flush()
	},
}

var (
	cronName     string
	cronSchedule string
	cronMessage  string
	cronChannel  string
	cronChatID   string
)

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a job (delay like 30m/2h/1d, or a 5-field cron expression)",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cronService()
		if err != nil {
			return err
		}
		job, err := svc.CreateJob(scheduler.JobSpec{
			Name:     cronName,
			Schedule: cronSchedule,
			Message:  cronMessage,
			Channel:  cronChannel,
			ChatID:   cronChatID,
		})
		if err != nil {
			return err
		}
		kind := "one-shot"
		if job.Recurring {
			kind = "recurring"
		}
		cmd.Printf("%s Added %s job %s (%s), next run %s\n", okMark, kind, job.ID, job.Name, job.NextRun.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cronService()
		if err != nil {
			return err
		}
		if !svc.DeleteJob(args[0]) {
			return fmt.Errorf("job %s not found", args[0])
		}
		cmd.Printf("%s Removed job %s\n", okMark, args[0])
		return nil
	},
}

func init() {
	cronAddCmd.Flags().StringVarP(&cronName, "name", "n", "", "Job name")
	cronAddCmd.Flags().StringVar(&cronSchedule, "schedule", "", "Delay (30m, 2h, 1d) or cron expression")
	cronAddCmd.Flags().StringVarP(&cronMessage, "message", "m", "", "Message delivered to the agent")
	cronAddCmd.Flags().StringVar(&cronChannel, "channel", "cli", "Reply channel")
	cronAddCmd.Flags().StringVar(&cronChatID, "chat", channels.CLIChatID, "Reply chat")
	cronAddCmd.MarkFlagRequired("schedule")
	cronAddCmd.MarkFlagRequired("message")

	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronRemoveCmd)
}

func cronService() (*scheduler.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return scheduler.NewService(cfg.CronDir(), nil), nil
}

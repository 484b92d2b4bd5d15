package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bigknoxy/joshbot/internal/channels"
)

var (
	agentMessage string
	agentSession string
	agentVerbose bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the agent in the terminal",
	Long:  "Send a single message with -m, or start an interactive session without it.",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send (one-shot mode)")
	agentCmd.Flags().StringVarP(&agentSession, "session", "s", channels.CLIChatID, "Session key")
	agentCmd.Flags().BoolVarP(&agentVerbose, "verbose", "v", false, "Show info-level logs")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := runtimeOptions{logLevel: "warn"}
	if agentVerbose {
		opts.logLevel = cfg.Log.Level
	}
	rt, err := newRuntime(cfg, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if agentMessage != "" {
		reply, err := rt.loop.ProcessDirect(ctx, agentMessage, agentSession)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	}

	out := cmd.OutOrStdout()
	printHeader(out, "joshbot agent")
	fmt.Fprintf(out, "Model: %s\n", color.YellowString(rt.loop.Model()))
	return runInteractive(ctx, rt, cmd.InOrStdin(), out)
}

// runInteractive wires the terminal channel to the bus and runs until the
// user exits.
func runInteractive(ctx context.Context, rt *runtime, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr := channels.NewManager(rt.bus)
	mgr.Register(channels.NewCLIChannel(rt.bus, in, out))
	rt.loop.Register()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.bus.Start(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return mgr.Start(gctx)
	})
	return g.Wait()
}

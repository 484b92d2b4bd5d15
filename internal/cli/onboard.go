package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bigknoxy/joshbot/internal/config"
	"github.com/bigknoxy/joshbot/internal/heartbeat"
	"github.com/bigknoxy/joshbot/internal/identity"
	"github.com/bigknoxy/joshbot/internal/memory"
)

var (
	onboardForce          bool
	onboardNonInteractive bool
	onboardAPIKey         string
	onboardModel          string
	onboardPersonality    string
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Create the config file and scaffold the workspace",
	RunE:  runOnboard,
}

func init() {
	onboardCmd.Flags().BoolVarP(&onboardForce, "force", "f", false, "Overwrite existing config and workspace templates")
	onboardCmd.Flags().BoolVar(&onboardNonInteractive, "non-interactive", false, "Run without prompts")
	onboardCmd.Flags().StringVar(&onboardAPIKey, "api-key", "", "OpenRouter API key")
	onboardCmd.Flags().StringVar(&onboardModel, "model", "", "Default model")
	onboardCmd.Flags().StringVar(&onboardPersonality, "personality", "", "SOUL.md preset: professional | friendly | sarcastic | minimal")
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "joshbot onboarding")

	path := configLocation()
	cfg := config.DefaultConfig()
	if _, err := os.Stat(path); err == nil && !onboardForce {
		existing, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("existing config %s: %w", path, err)
		}
		cfg = existing
		fmt.Fprintf(out, "%s Config exists at %s; keeping it (use --force to reset)\n", warnMark, path)
	}

	in := bufio.NewReader(cmd.InOrStdin())
	if !onboardNonInteractive {
		if onboardAPIKey == "" {
			onboardAPIKey = prompt(in, out, "OpenRouter API key (enter to skip)", "")
		}
		if onboardModel == "" {
			onboardModel = prompt(in, out, "Default model", cfg.Agents.Defaults.Model)
		}
		if onboardPersonality == "" {
			onboardPersonality = choosePersonality(in, out)
		}
	}
	if onboardAPIKey != "" {
		pc := cfg.Providers["openrouter"]
		pc.APIKey = onboardAPIKey
		cfg.Providers["openrouter"] = pc
	}
	if onboardModel != "" {
		cfg.Agents.Defaults.Model = onboardModel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Config saved to %s\n", okMark, path)

	workspace := cfg.WorkspaceDir()
	res, err := identity.ScaffoldWorkspace(workspace, onboardPersonality, onboardForce)
	if err != nil {
		return err
	}
	for _, name := range res.Created {
		fmt.Fprintf(out, "%s Created %s\n", okMark, name)
	}
	for _, name := range res.Skipped {
		fmt.Fprintf(out, "%s Kept %s\n", warnMark, name)
	}
	for _, msg := range res.Errors {
		fmt.Fprintf(out, "%s %s\n", failMark, msg)
	}

	if err := memory.NewStore(workspace).Initialize(); err != nil {
		return err
	}
	if err := heartbeat.NewService(heartbeat.Options{Workspace: workspace}).Initialize(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s Workspace ready at %s\n", okMark, workspace)
	fmt.Fprintf(out, "Next: %s or %s\n", color.CyanString("joshbot agent"), color.CyanString("joshbot gateway"))
	return nil
}

func prompt(in *bufio.Reader, out io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	line, _ := in.ReadString('\n')
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return def
}

func choosePersonality(in *bufio.Reader, out io.Writer) string {
	fmt.Fprintln(out, "Choose a personality:")
	for i, p := range identity.Personalities {
		fmt.Fprintf(out, "  %d. %s - %s\n", i+1, p.Name, p.Description)
	}
	answer := prompt(in, out, "Personality", identity.DefaultPersonality)
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(identity.Personalities) {
		return identity.Personalities[n-1].Key
	}
	for _, p := range identity.Personalities {
		if strings.EqualFold(answer, p.Key) {
			return p.Key
		}
	}
	return identity.DefaultPersonality
}

package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bigknoxy/joshbot/internal/config"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/bigknoxy/joshbot/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   _           _     _           _\n" +
		"  (_) ___  ___| |__ | |__   ___ | |_\n" +
		"  | |/ _ \\/ __| '_ \\| '_ \\ / _ \\| __|\n" +
		"  | | (_) \\__ \\ | | | |_) | (_) | |_\n" +
		" _/ |\\___/|___/_| |_|_.__/ \\___/ \\__|\n" +
		"|__/\n"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "joshbot",
	Short:         "joshbot - personal AI assistant",
	Long:          color.CyanString(logo) + "\nA lightweight personal AI assistant with memory, skills and scheduled tasks.",
	SilenceUsage:  true,
	SilenceErrors: false,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("joshbot %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default $JOSHBOT_HOME/config.json)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cronCmd)
}

// loadConfig reads the --config file when given, the default location
// otherwise.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func configLocation() string {
	if configFile != "" {
		return configFile
	}
	return config.ConfigPath()
}

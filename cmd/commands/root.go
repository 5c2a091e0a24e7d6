package commands

// Root command: global flags shared by run and check.

import (
	"kick-miner/internal/infra/config"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kick-miner",
	Short: "Kick Miner - farms Kick channel points by chatting while channels are live",
	Long: `Kick Miner polls the Kick.com API for a set of channels and posts a random
configured chat message whenever a channel is live, waiting between messages
according to the configured wait times.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "config.json", "Path to config file (JSON or YAML)")
	flags.String("log-dir", "logs", "Directory for app.log (env: LOG_DIR)")
	config.AnnotateFlag(flags, "log-dir", "log.dir")
	flags.String("log-level", "info", "File log level: debug, info, warn, error (env: LOG_LEVEL)")
	config.AnnotateFlag(flags, "log-level", "log.level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		Path:  configPath,
		Flags: cmd.Flags(),
	})
}

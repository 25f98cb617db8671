// Command turnforge serves the agent-turn API and administers its event log.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/turnforge/internal/config"
)

// Persistent flag values. Only flags the user actually set override the
// loaded configuration.
var (
	flagConfig    string
	flagPort      string
	flagLogLevel  string
	flagDSN       string
	flagNatsURL   string
	flagAgentMode string
)

var rootCmd = &cobra.Command{
	Use:   "turnforge",
	Short: "Agent-turn event orchestration service",
	Long: `turnforge executes agent turns against a graph runtime, streams the
resulting events to clients and keeps every session's event log in PostgreSQL.

Running turnforge without a subcommand starts the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "path to the YAML config file (default "+config.DefaultConfigFile+")")
	pf.StringVar(&flagPort, "port", "", "HTTP listen port")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flagDSN, "dsn", "", "PostgreSQL connection string")
	pf.StringVar(&flagNatsURL, "nats-url", "", "NATS server URL")
	pf.StringVar(&flagAgentMode, "agent-mode", "", "agent execution mode: stream or invoke")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig applies the persistent flags set on cmd over defaults, YAML and
// environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := config.CLIFlags{ConfigPath: &flagConfig}
	set := func(name string, v *string) *string {
		if cmd.Flags().Changed(name) {
			return v
		}
		return nil
	}
	flags.Port = set("port", &flagPort)
	flags.LogLevel = set("log-level", &flagLogLevel)
	flags.DSN = set("dsn", &flagDSN)
	flags.NatsURL = set("nats-url", &flagNatsURL)
	flags.AgentMode = set("agent-mode", &flagAgentMode)

	cfg, _, err := config.LoadWithCLI(flags)
	return cfg, err
}

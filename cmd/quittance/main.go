// Quittance indexes ApiCallProved events from the ApiProofs contract into
// PostgreSQL and serves them over GraphQL.
package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/0xredeth/Quittance/pkg/config"
)

// Set via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgFile  string
	logLevel string
	logJSON  bool
)

func main() {
	root := &cobra.Command{
		Use:           "quittance",
		Short:         "ApiProofs event indexer for Base",
		Long:          "Quittance watches the ApiProofs contract for ApiCallProved events,\nassigns each one a deterministic ID, and indexes it into PostgreSQL\nbehind a GraphQL API and a WebSocket live feed.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./quittance.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log JSON instead of console output")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newNetworksCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setupLogging configures the global zerolog logger from the root flags.
func setupLogging() error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if !logJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
	return nil
}

// loadConfig wires viper to the config file and returns the parsed
// configuration. The file is optional when every required value arrives via
// environment variables; an explicit --config that cannot be read is an
// error.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("quittance")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/quittance")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug().Str("file", used).Msg("config loaded")
	}
	return cfg, nil
}

func newNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List built-in network presets",
		Run: func(cmd *cobra.Command, _ []string) {
			names := config.SupportedNetworks()
			sort.Strings(names)

			for _, name := range names {
				preset := config.NetworkPresets[name]
				cmd.Printf("%s\n", name)
				cmd.Printf("  chain id:    %d\n", preset.ChainID)
				cmd.Printf("  default rpc: %s\n", preset.DefaultRPC)
				cmd.Printf("  block time:  %s\n", preset.BlockTime)
				cmd.Printf("  l1 chain id: %d\n", preset.L1ChainID)
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("quittance %s (commit %s)\n", version, commit)
		},
	}
}

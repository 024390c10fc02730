// Package cmd implements the CLI commands for the auction coordinator.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adweave/aip-coordinator/pkg/config"
)

var (
	cfgFile     string
	biddersFile string
	cfg         *config.Config
	logger      *logrus.Logger
	v           *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "aip-coordinator",
	Short: "Real-time ad-auction coordinator",
	Long: `The AIP coordinator accepts platform context requests, fans them out
to bidding agents over pool-keyed topics, collects signed bids within the
auction window, clears at second price, and reconciles billing events
against the tamper-evident ledger.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogger()

		return initConfig()
	},
}

func init() {
	v = viper.New()

	defaults := config.DefaultConfig()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (or $AIP_CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&biddersFile, "bidders", "", "bidder inventory file path (or $AIP_BIDDERS_PATH)")
	rootCmd.PersistentFlags().String("listen-host", "", "HTTP listen host")
	rootCmd.PersistentFlags().Int("listen-port", 0, "HTTP listen port")
	rootCmd.PersistentFlags().Int("nonce-ttl-seconds", 0, "Nonce replay window in seconds")
	rootCmd.PersistentFlags().Int("max-clock-skew-ms", 0, "Maximum envelope timestamp skew in ms")
	rootCmd.PersistentFlags().Int("window-ms", 0, "Auction collection window in ms")
	rootCmd.PersistentFlags().String("ledger-backend", "", "Ledger backend: in_memory, redis, postgres, document_store")
	rootCmd.PersistentFlags().String("distribution-backend", "", "Distribution backend: local, managed_topic, gossip")
	rootCmd.PersistentFlags().String("operator-id", "", "Operator identity stamped onto context requests")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", defaults.Debug, "Enable debug behavior")

	if err := v.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	v.SetEnvPrefix("AIP")
	v.AutomaticEnv()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initLogger() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
}

// initConfig loads the config file (if any) and applies flag overrides.
func initConfig() error {
	loader := config.NewLoader(logger)

	cfg = config.DefaultConfig()

	if path := config.ServerConfigPath(cfgFile); path != "" {
		fileCfg, err := loader.LoadConfig(path)
		if err != nil {
			return err
		}

		cfg = fileCfg
	}

	overrides, err := loader.LoadConfigFromFlags(v)
	if err != nil {
		return err
	}

	cfg = config.MergeConfigs(cfg, overrides)

	return nil
}

// GetConfig returns the current configuration.
func GetConfig() *config.Config {
	return cfg
}

// GetLogger returns the application logger.
func GetLogger() *logrus.Logger {
	return logger
}

// couplerd talks to a UR20 Modbus TCP fieldbus coupler.
//
// serve runs the cyclic process image exchange behind a REST, WebSocket and
// MQTT surface. discover and set are one-shot commands for commissioning.
package main

import (
	"fmt"
	"os"

	"github.com/KevinKickass/OpenCoupler/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	cfgFile string
	address string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "couplerd",
		Short:         "UR20 fieldbus coupler daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", "", "coupler host:port, overrides coupler.address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newDiscoverCmd(),
		newSetCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies the global flags on top of the loaded config.
func loadConfig() (*config.Config, error) {
	if address != "" {
		os.Setenv("OPENCOUPLER_COUPLER_ADDRESS", address)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

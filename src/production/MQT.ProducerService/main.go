package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	container "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Container"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mqt-producer",
	Short: "Publish synthetic telemetry to an MQTT broker",
	Long: `mqt-producer publishes a sample reading every PUBLISH_INTERVAL.

In fixed mode (PRODUCER_MODE=fixed) it sends device/status/value/timestamp
objects to TOPIC. In simulated mode it picks a sensor type and a room and
publishes to sensors/<location>/<type>.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctr, err := container.NewProducerContainer()
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}

		log := ctr.GetLogger()
		cfg := ctr.GetConfig()
		log.Logger.Info().Str("broker", cfg.MQTT.BrokerURL()).Str("mode", cfg.Mode).Msg("Starting MQTT producer")

		return ctr.Run(cmd.Context())
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mqt-producer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

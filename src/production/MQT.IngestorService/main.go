package main

import (
	"context"
	"fmt"
	"os"
	"time"

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
	Use:   "mqt-recorder",
	Short: "Record MQTT telemetry into a local SQLite store",
	Long: `mqt-recorder subscribes to an MQTT topic and stores every message it
receives as a row in a local SQLite database. Payloads that are not JSON
objects are recorded as raw/non-json placeholder rows.

Configuration is read from the environment and an optional .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRecorder,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mqt-recorder version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(healthCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start recording (default)",
	RunE:  runRecorder,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the store to <STORE_PATH>.backup",
	Long: `Copy the store file to <STORE_PATH>.backup, replacing any previous backup.
Run it while the recorder is idle; writes in progress are not paused.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctr, err := container.NewRecorderContainer()
		if err != nil {
			return err
		}
		defer ctr.Shutdown(context.Background())

		if err := ctr.Maintenance().Backup(); err != nil {
			return err
		}
		fmt.Printf("✓ Backup written to %s\n", ctr.GetConfig().Store.BackupPath())
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the store with <STORE_PATH>.backup",
	Long: `Overwrite the store file with <STORE_PATH>.backup. When no backup exists a
warning is logged and the store is left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctr, err := container.NewRecorderContainer()
		if err != nil {
			return err
		}
		defer ctr.Shutdown(context.Background())

		return ctr.Maintenance().Restore()
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the store is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctr, err := container.NewRecorderContainer()
		if err != nil {
			return err
		}
		defer ctr.Shutdown(context.Background())

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		repo := ctr.GetRepository()
		if !ctr.Maintenance().HealthCheck(ctx) {
			return fmt.Errorf("store %s is unavailable", repo.Path())
		}

		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Store %s is healthy (%d readings)\n", repo.Path(), n)
		return nil
	},
}

func init() {
	healthCmd.Flags().Duration("timeout", 5*time.Second, "How long to wait for the store")
}

func runRecorder(cmd *cobra.Command, args []string) error {
	ctr, err := container.NewRecorderContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer ctr.Shutdown(context.Background())

	log := ctr.GetLogger()
	log.Info("Starting MQTT recorder")

	if err := ctr.Run(cmd.Context()); err != nil {
		log.ErrorWithError(err, "MQTT recorder stopped with error")
		return err
	}
	return nil
}

// waterwatch serves the water network dashboard backend: asset CRUD,
// telemetry ingestion and live pipeline flow reachability.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"waterwatch/pkg/config"
	"waterwatch/pkg/logger"
)

var version = "dev"

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "waterwatch",
		Short: "Water network monitoring backend",
		Long:  "Tracks tanks, valves and pipelines, ingests tank level telemetry and computes which pipeline segments carry water.",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the API, workers and realtime hub",
		RunE:  runServe,
	}

	flowCmd = &cobra.Command{
		Use:   "flow",
		Short: "Compute pipeline flow once and print it as JSON",
		RunE:  runFlow,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("waterwatch %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")

	flowCmd.Flags().String("snapshot", "", "Read the network from a JSON snapshot file instead of the database")
	flowCmd.Flags().Bool("summary", false, "Print only the summary")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(flowCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and initializes logging from it.
func loadConfig() (*config.Config, error) {
	var opts []config.LoaderOption
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		opts = append(opts, config.WithConfigPaths(configFile))
	}

	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Version == "" || cfg.App.Version == "dev" {
		cfg.App.Version = version
	}

	logger.InitWithConfig(cfg.Log)
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

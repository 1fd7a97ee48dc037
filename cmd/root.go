package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/pubcontrol/app"
	"github.com/kilianp07/pubcontrol/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "pubctl",
	Short:        "Publish items to realtime push endpoints",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file, empty to use the environment only")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func newService() (*app.Service, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(cfg)
}

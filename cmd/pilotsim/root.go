package main

import (
	"fmt"
	"os"

	"github.com/metalagman/pilotsim/internal/config"
	"github.com/metalagman/pilotsim/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	debug   bool
	rootCmd = &cobra.Command{
		Use:   "pilotsim",
		Short: "pilotsim runs radio phraseology training sessions",
	}
)

// Execute runs the root command.
func Execute() error {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return err
		}
		appConfig = cfg
		logging.Init(debug, cfg.Log.File)
		return nil
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(turnCmd())
	rootCmd.AddCommand(workbookCmd())
	rootCmd.AddCommand(sessionsCmd())
	return rootCmd.Execute()
}

var appConfig = config.Default()

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
}

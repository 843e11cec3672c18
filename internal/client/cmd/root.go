package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/peerwave/peerwave/internal/config"
	"github.com/peerwave/peerwave/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:  `peerwave`,
	Long: `peerwave is a peer to peer real-time communication client`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logger.NewLoggerWithLevel(cfg.LogLevel), nil
}

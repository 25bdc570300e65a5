package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kimnauryz/ai-sarbaz/pkg/config"
	"github.com/kimnauryz/ai-sarbaz/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sarbaz",
	Short: "Terminal client for the ai-sarbaz chat server",
	Long: `sarbaz is a terminal chat client that streams model responses from an
ai-sarbaz server over SSE, with incremental output and connection liveness
monitoring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		defer logger.Close()

		app, err := NewApp(config.Get())
		if err != nil {
			return err
		}
		return app.Run(cmd.Context())
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.sarbaz/settings.yaml)")

	rootCmd.PersistentFlags().StringP("server", "s", "", "server base URL")
	viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().StringP("model", "m", "", "model to chat with")
	viper.BindPFlag("chat.model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}

// Command intakectl scores CSV files offline and drives a running intake server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mbd888/riskintake/internal/apiclient"
	"github.com/mbd888/riskintake/internal/logging"
)

var (
	cfgFile string
	version = "dev"
	rootCmd = &cobra.Command{
		Use:   "intakectl",
		Short: "Transaction intake and risk scoring CLI",
		Long: `intakectl scores transaction CSV files with the same estimator the server uses,
uploads files for background import, and follows the resulting jobs.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/intakectl/config.yaml)")
	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "intake server base URL")
	rootCmd.PersistentFlags().String("user", "", "user id for uploads, rescore and dashboard")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("user.id", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(rescoreCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/intakectl")
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("intakectl")
		viper.SetConfigType("yaml")
	}

	// INTAKECTL_API_URL, INTAKECTL_USER_ID, INTAKECTL_RISK_SCALE, ...
	viper.SetEnvPrefix("INTAKECTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	format := viper.GetString("logging.format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", format)
	}
	slog.SetDefault(logging.NewWithWriter(os.Stderr, viper.GetString("logging.level"), format))
	return nil
}

func newClient() *apiclient.Client {
	return apiclient.New(viper.GetString("api.url"))
}

func requireUser() (string, error) {
	u := strings.TrimSpace(viper.GetString("user.id"))
	if u == "" {
		return "", fmt.Errorf("a user id is required (--user or INTAKECTL_USER_ID)")
	}
	return u, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "intakectl", version)
		},
	}
}

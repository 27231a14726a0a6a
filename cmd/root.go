package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codedbyjessica/ga4audit/internal/config"
	"github.com/codedbyjessica/ga4audit/internal/observability"
)

var (
	cfgFile  string
	siteFile string

	// cfg is resolved once in PersistentPreRunE and shared by subcommands.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "ga4audit",
	Short:   "ga4audit validates analytics event firing and form behavior on live pages.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			// Initialize a fallback logger so the failure itself is loggable.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "ga4audit"})
			return err
		}
		if siteFile != "" {
			if err := loaded.ApplySiteFile(siteFile); err != nil {
				observability.InitializeLogger(loaded.Logger)
				return err
			}
		}
		if err := loaded.Validate(); err != nil {
			observability.InitializeLogger(loaded.Logger)
			return fmt.Errorf("invalid configuration: %w", err)
		}

		cfg = loaded
		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting ga4audit", zap.String("version", Version))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. SIGINT and SIGTERM cancel the command context so a running
// audit can shut the browser down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./ga4audit.yaml)")
	rootCmd.PersistentFlags().StringVarP(&siteFile, "site", "s", "", "site override file with selectors, hooks and form definitions")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/klukaszek/ggyl/internal/monitor"
)

var (
	cfgFile string
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ggyl [-d directory] command [pattern...]",
	Short: "Watch a directory tree and run a command on change",
	Long: `ggyl watches a directory and its subdirectories for filesystem changes
and runs a shell command when a changed file matches one of the given glob
patterns. With no patterns, every change triggers the command.

Examples:
  ggyl "make" "*.c" "*.h"
  ggyl -d src --debounce 500ms "go test ./..." "*.go"
  ggyl "echo {event}: {}"`,
	Version: version,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(args[0], args[1:])
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Flags
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.ggyl.yaml)")
	rootCmd.Flags().StringP("dir", "d", ".", "Directory to watch")
	rootCmd.Flags().Duration("debounce", monitor.DefaultDebounce, "How long to wait for a burst of events to settle")
	rootCmd.Flags().Bool("include-hidden", false, "Watch hidden directories as well")
	rootCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.Flags().Bool("silent", false, "Disable all output except errors")

	// Bind flags to viper
	viper.BindPFlag("dir", rootCmd.Flags().Lookup("dir"))
	viper.BindPFlag("debounce", rootCmd.Flags().Lookup("debounce"))
	viper.BindPFlag("include-hidden", rootCmd.Flags().Lookup("include-hidden"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("silent", rootCmd.Flags().Lookup("silent"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".ggyl" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ggyl")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runMonitor(command string, patterns []string) error {
	logger := createLogger()
	defer logger.Sync()

	m, err := monitor.New(monitor.Options{
		Root:          viper.GetString("dir"),
		Command:       command,
		Patterns:      patterns,
		Debounce:      viper.GetDuration("debounce"),
		IncludeHidden: viper.GetBool("include-hidden"),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	// Cooperative shutdown: the signal handler only cancels the context, the
	// event loop owns every resource it releases.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("caught signal", zap.String("signal", sig.String()))
		cancel()
	}()

	err = m.Run(ctx)
	m.Close()

	stats := m.Stats()
	logger.Info("shutting down",
		zap.Int64("events", stats.EventsSeen),
		zap.Int64("bursts", stats.Bursts),
		zap.Int64("commands", stats.CommandRuns),
		zap.Int64("rebuilds", stats.Rebuilds),
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// createLogger builds the logger from the verbosity flags.
func createLogger() *zap.Logger {
	var config zap.Config

	switch {
	case viper.GetBool("silent"):
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case viper.GetBool("verbose"):
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, _ := config.Build()
	return logger
}

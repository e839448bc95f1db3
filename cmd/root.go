package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facedetectd/internal/config"
	"github.com/andresmejia3/facedetectd/internal/diag"
	"github.com/andresmejia3/facedetectd/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// needsDB marks commands that open the face index in PersistentPreRunE.
const needsDB = "needs-db"

var (
	// DB is the global database connection shared by the index subcommands
	DB *store.Store
	// cfg is the resolved configuration; flags below override it.
	cfg *config.Config
	log *logrus.Logger

	dbURL     string
	logLevel  string
	logFormat string
	logFile   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facedetectd",
	Short:   "Face detection and face embedding service",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		overrideFromFlags(cmd)
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		log = diag.Setup(diag.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, LogFile: cfg.LogFile})

		if cmd.Annotations[needsDB] == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.DBURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func overrideFromFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBURL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/facedetect)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Diagnostic level: debug, info, warning, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "diag", "Diagnostic format: diag (severity;message) or pretty")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write diagnostics to this rotating log file")
}

package main

import (
	"fmt"
	"io"
	"os"

	"mobibook/internal/config"
	"mobibook/internal/database"
	"mobibook/internal/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

// env is what a command needs from the configured installation.
type env struct {
	cfg    *config.Config
	db     *database.DB
	logger *zerolog.Logger
	closer io.Closer
}

func (e *env) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

type options struct {
	configPath string
	dbPath     string
}

func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operator tool for the mobibook slot and booking store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "override database.path from the config")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newSlotsCmd(opts))
	root.AddCommand(newBookingsCmd(opts))
	root.AddCommand(newBackupCmd(opts))

	return root
}

// open loads the config and opens the store. Logs go to stderr so command
// output stays parseable.
func (o *options) open() (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	cfg.Logging.Output = "stderr"
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.Open(cfg.Database.Path, database.Options{
		MaxOpenConns:  cfg.Database.MaxOpenConns,
		BusyTimeoutMS: cfg.Database.BusyTimeoutMS,
	}, logging.Component(logger, "database"))
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: db, logger: logger, closer: closer}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bookingctl %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/cloudbackup/internal/config"
	"github.com/kebairia/cloudbackup/internal/credentials"
	"github.com/kebairia/cloudbackup/internal/logger"
	"github.com/kebairia/cloudbackup/internal/operations"
	"github.com/kebairia/cloudbackup/internal/storage"
)

var (
	// configFile is the path to the YAML configuration.
	configFile string
	verbose    bool

	// rootCmd is the base command for cloudbackup.
	rootCmd = &cobra.Command{
		Use:   "cloudbackup",
		Short: "Periodic backups of local files to remote storage",
		Long: `cloudbackup archives the files and directories listed in your YAML
configuration, uploads them to a remote backend without ever losing the
previous backup, and restores them to their original locations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configFile, "config", "c", "./.backup.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", defaultVerbose(os.Getenv("VERBOSE")),
			"log progress, not only errors; --verbose=false keeps errors only (env VERBOSE)")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(autoCmd)
}

// defaultVerbose is on unless env holds a false boolean.
func defaultVerbose(env string) bool {
	v, err := strconv.ParseBool(env)
	if err != nil {
		return true
	}
	return v
}

// session is what every subcommand works with: the loaded configuration,
// the logger built from it and an operator on an authenticated backend.
type session struct {
	cfg      config.Config
	log      logger.Logger
	keeper   *credentials.Keeper
	operator *operations.Operator
}

func newSession(ctx context.Context) (*session, error) {
	var cfg config.Config
	if err := cfg.Load(configFile); err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if !verbose {
		level = "error"
	}
	log, err := logger.New(logger.Options{Level: level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}

	backend, err := storage.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	log.Info("using backup backend", "backend", backend.Name())

	src, err := credentials.NewSource(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	keeper := &credentials.Keeper{
		Backend:     backend,
		Source:      src,
		Prompter:    credentials.NewTerminalPrompter(),
		MaxAttempts: cfg.Credentials.MaxAttempts,
		Log:         log,
	}
	if err := keeper.Login(ctx); err != nil {
		return nil, fmt.Errorf("authenticate with %s backend: %w", backend.Name(), err)
	}

	op, err := operations.NewOperator(operations.OptionsFromConfig(cfg, backend), log)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, keeper: keeper, operator: op}, nil
}

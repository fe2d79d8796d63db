package main

import (
	"fmt"
	"os"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/internal/config"
	"github.com/MarkoPoloResearchLab/creditledger/internal/observability"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const flagEnvFile = "env-file"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

// application carries state shared by the subcommands.
type application struct {
	viper   *viper.Viper
	cfg     config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	clock   func() int64
}

func newRootCommand() *cobra.Command {
	app := &application{
		viper: config.NewViper(),
		clock: func() int64 { return time.Now().UTC().Unix() },
	}
	cmd := &cobra.Command{
		Use:           "creditd",
		Short:         "Credit ledger service for audit billing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.logger != nil {
				_ = app.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagEnvFile, ".env", "optional dotenv file loaded before reading CREDITD_* variables")
	flags.String(config.KeyDatabaseURL, "", "memory://, sqlite:///path/to/db or postgres:// connection string")
	flags.String(config.KeyPostgresDriver, "", "postgres access layer: gorm or pgx")
	flags.Int64(config.KeyGraceUnit, 1, "credits a first overdraft may go below zero (0 disables)")
	flags.Int64(config.KeyMaxSpend, 0, "largest single debit")
	flags.String(config.KeyExemptUsers, "", "comma-separated user ids that spend without consuming credits")
	flags.Duration(config.KeyRequestTimeout, 0, "per-request ledger timeout")
	flags.String(config.KeyRedisURL, "", "redis:// URL for the ledger event stream (optional)")
	flags.String(config.KeyRedisStream, "", "redis stream receiving ledger events")

	cmd.AddCommand(newServeCommand(app))
	cmd.AddCommand(newMigrateCommand(app))
	cmd.AddCommand(newReconcileCommand(app))
	cmd.AddCommand(newHashTokenCommand())
	return cmd
}

// load binds every flag of the running command, reads the dotenv file and validates the config.
func (app *application) load(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	if err := app.viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(app.viper)
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	app.cfg = cfg
	app.logger = logger
	return nil
}

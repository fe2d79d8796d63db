package main

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/creditledger/internal/store/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const flagSteps = "steps"

func newMigrateCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, _, err := resolveDriver(app.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if driver != driverPostgres {
				// sqlite and memory stores create their schema on open.
				opened, err := openStore(cmd.Context(), app.cfg, app.logger, false)
				if err != nil {
					return err
				}
				opened.cleanup()
				app.logger.Info("schema ready", zap.String("driver", driver))
				return nil
			}
			return migrateUp(app.cfg.DatabaseURL, app.logger)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := cmd.Flags().GetInt(flagSteps)
			if err != nil {
				return err
			}
			return migrateDown(app, steps)
		},
	}
	down.Flags().Int(flagSteps, 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}

func migrateDown(app *application, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("%s must be positive", flagSteps)
	}
	runner, err := migrations.NewRunner(app.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = runner.Close() }()
	if err := runner.Down(steps); err != nil {
		return err
	}
	app.logger.Info("schema rolled back", zap.Int("steps", steps))
	return nil
}

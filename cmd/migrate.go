package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/runtime"
	srv "github.com/mohammad-safakhou/seshat/internal/server"
)

func migrateCMD(flags *globalFlags) *cobra.Command {
	var migDir string
	var direction string
	var steps int

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres CMS migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			dsn, err := runtime.BuildPostgresDSN(cfg)
			if err != nil {
				return err
			}
			if err := srv.Migrate(migDir, dsn, direction, steps); err != nil {
				return err
			}
			logger.Info("migrations applied", zap.String("direction", direction), zap.Int("steps", steps))
			return nil
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", srv.DefaultMigrations, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	return migrate
}

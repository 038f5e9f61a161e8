package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/config"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate [up|down|force VERSION]",
		Short: "Apply or roll back database migrations",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.Init(cfg.App.Env)
			if err != nil {
				return err
			}
			defer logger.Sync()

			m, err := migrate.New(source, cfg.Database.URL())
			if err != nil {
				return fmt.Errorf("open migrations: %w", err)
			}
			defer m.Close()

			switch args[0] {
			case "up":
				err = m.Up()
			case "down":
				err = m.Steps(-1)
			case "force":
				if len(args) != 2 {
					return errors.New("force requires a version")
				}
				v, convErr := strconv.Atoi(args[1])
				if convErr != nil {
					return fmt.Errorf("invalid version %q: %w", args[1], convErr)
				}
				err = m.Force(v)
			default:
				return fmt.Errorf("unknown migrate action %q", args[0])
			}
			if err != nil && !errors.Is(err, migrate.ErrNoChange) {
				var dirty migrate.ErrDirty
				if errors.As(err, &dirty) {
					return fmt.Errorf("database is dirty at version %d, fix it and run `fourmiz migrate force %d`: %w", dirty.Version, dirty.Version-1, err)
				}
				return err
			}

			version, dirty, verr := m.Version()
			if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
				return verr
			}
			log.Info("migration finished", zap.String("action", args[0]), zap.Uint("version", version), zap.Bool("dirty", dirty))
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "file://migrations", "migration source URL")
	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/config"
	"github.com/reelforge/reelforge/internal/session"
)

func migrateCMD() *cobra.Command {
	var migDir string
	var direction string
	var steps int
	var cfgPath string

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Session.Backend != "postgres" {
				// the sqlite backend creates its schema on open
				return fmt.Errorf("migrations apply to the postgres backend, session.backend is %q", cfg.Session.Backend)
			}
			return session.MigratePostgres(migDir, cfg.Session.PostgresDSN, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config.yaml)")
	return migrate
}

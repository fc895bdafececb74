package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocksim/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Bring the configured database up to the latest schema and print its version.

Opening a store always migrates it, so this is mainly useful before starting
several servers against one Postgres database.

Examples:
  stocksim migrate
  STOCKSIM_STORE_DRIVER=postgres STOCKSIM_STORE_DSN=postgres://... stocksim migrate`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

type versioned interface {
	SchemaVersion(ctx context.Context) (int64, error)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer s.Close()

	v, ok := s.(versioned)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s store has no schema\n", cfg.Store.Driver)
		return nil
	}
	n, err := v.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s schema at version %d\n", cfg.Store.Driver, n)
	return nil
}

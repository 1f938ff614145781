package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roomboard/passledger/internal/lifecycle"
	"github.com/roomboard/passledger/pkg/passledger"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create ledger tables, collections and indexes",
		Long:  "Opens the configured storage backend, which creates any missing tables or indexes, then exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			resources := lifecycle.NewManager(log)
			defer resources.Close()

			store, err := passledger.OpenStore(cmd.Context(), cfg.Storage, resources)
			if err != nil {
				return err
			}
			if err := store.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("ping store: %w", err)
			}

			backend := cfg.Storage.Backend
			if backend == "" {
				backend = "auto"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ledger schema ready (backend: %s)\n", backend)
			return nil
		},
	}
}

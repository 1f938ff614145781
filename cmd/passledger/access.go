package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roomboard/passledger/internal/entitlements"
	"github.com/roomboard/passledger/internal/lifecycle"
	"github.com/roomboard/passledger/pkg/passledger"
)

type accessReport struct {
	UserID  string                      `json:"user_id"`
	Access  entitlements.AccessLevel    `json:"access"`
	History []entitlements.HistoryEntry `json:"history,omitempty"`
}

func newAccessCmd(opts *rootOptions) *cobra.Command {
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "access <user-id>",
		Short: "Print a user's current access level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			if _, err := uuid.Parse(userID); err != nil {
				return fmt.Errorf("invalid user id %q: %w", userID, err)
			}

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
			svc := entitlements.NewService(store, cfg.Ledger.QueryTimeout.Duration, log, nil)

			report := accessReport{
				UserID: userID,
				Access: svc.GetAccessLevel(cmd.Context(), userID),
			}
			if historyLimit > 0 {
				if report.History, err = svc.History(cmd.Context(), userID, historyLimit); err != nil {
					return fmt.Errorf("load history: %w", err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().IntVar(&historyLimit, "history", 0, "also print up to N ledger rows")
	return cmd
}

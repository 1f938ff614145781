package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roomboard/passledger/internal/auth"
)

// newSignCmd signs a notification the way the hosted gateway does, for
// replaying webhooks against a local server.
func newSignCmd(opts *rootOptions) *cobra.Command {
	var (
		fields []string
		secret string
	)

	cmd := &cobra.Command{
		Use:   "sign --field name=value ...",
		Short: "Compute the webhook signature for a set of notification fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(fields))
			for _, f := range fields {
				name, value, ok := strings.Cut(f, "=")
				if !ok || strings.TrimSpace(name) == "" {
					return fmt.Errorf("field %q must be name=value", f)
				}
				values[strings.TrimSpace(name)] = value
			}

			if !cmd.Flags().Changed("secret") {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}
				secret = cfg.Gateway.Passphrase
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "canonical: %s\n", auth.CanonicalString(values, secret))
			fmt.Fprintf(out, "signature: %s\n", auth.Sign(values, secret))
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "notification field as name=value (repeatable)")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret (defaults to gateway.passphrase from config)")
	return cmd
}

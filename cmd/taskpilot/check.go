package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify provider and endpoint connectivity",
		Long: `Check that the configured model provider answers and that every
enabled endpoint completes its handshake. Exits non-zero if anything
is unreachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level)
			ctx := cmd.Context()

			rt, err := buildRuntime(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			failed := 0
			if rt.provider.CheckConnection(ctx) {
				fmt.Printf("provider %-18s ok\n", rt.provider.Name())
			} else {
				fmt.Printf("provider %-18s UNREACHABLE\n", rt.provider.Name())
				failed++
			}

			for name, err := range rt.manager.ConnectAll(ctx) {
				fmt.Printf("endpoint %-18s FAILED: %v\n", name, err)
				failed++
			}
			for _, conn := range rt.manager.Connections() {
				if conn.Connected() {
					fmt.Printf("endpoint %-18s ok (%d tools)\n", conn.Name(), len(conn.Tools()))
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

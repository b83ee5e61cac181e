package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newToolsCmd(opts *rootOptions) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		Long: `List every tool the agent can call: the built-in file and shell
tools, loaded skills, and tools discovered on configured endpoints.
Use --local to skip connecting to endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level)

			rt, err := buildRuntime(cmd.Context(), cfg, logger, !local)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			for _, def := range rt.registry.Definitions() {
				desc := def.Description
				if len(desc) > 80 {
					desc = desc[:77] + "..."
				}
				fmt.Printf("%-24s %s\n", def.Name, desc)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "list only local tools, do not dial endpoints")
	return cmd
}

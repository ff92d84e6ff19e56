package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func routeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Inspect the configured routing table",
	}
	cmd.AddCommand(routeShowCmd())
	return cmd
}

func routeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the routing table described by the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Router.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "router is disabled")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-16s %s\n", "SUBNET", "NEXT HOP", "PORT")
			for _, rt := range cfg.Router.Routes {
				port := rt.Port
				if port == "" {
					port = "(auto)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-16s %s\n", rt.Subnet, rt.NextHop, port)
			}
			if cfg.Router.DefaultRoute != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-16s %s\n", "0.0.0.0/0", cfg.Router.DefaultRoute, "(auto)")
			}
			return nil
		},
	}
}

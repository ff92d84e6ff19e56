package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func portCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Inspect configured switch ports",
	}
	cmd.AddCommand(portShowCmd())
	return cmd
}

func portShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the switch ports and VLAN membership described by the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			vidsOf := make(map[string][]string, len(cfg.Switch.Ports))
			for _, v := range cfg.Switch.Vlans {
				for _, name := range v.Ports {
					vidsOf[name] = append(vidsOf[name], fmt.Sprintf("%d", v.VID))
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-22s %-22s %-10s %s\n", "NAME", "LISTEN", "PEER", "TAG POLICY", "VLANS")
			for _, p := range cfg.Switch.Ports {
				tagPolicy := p.TagPolicy
				if tagPolicy == "" {
					tagPolicy = "admit_all"
				}
				vlans := strings.Join(vidsOf[p.Name], ",")
				if vlans == "" {
					vlans = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-22s %-22s %-10s %s\n", p.Name, p.Listen, p.Peer, tagPolicy, vlans)
			}
			if cfg.Router.Enabled {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-22s %-22s\n", "(cpu)", cfg.Router.OurIP, cfg.Router.OurMAC)
			}
			return nil
		},
	}
}

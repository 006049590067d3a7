package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/logging"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var listScenarios bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the face-swap service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			client := faceswap.NewHTTPClient(cfg.BaseURL(), ctx.logger(cfg))
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Service:    %s\n", logging.SanitizeURL(client.BaseURL()))
			h, err := client.Health(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "Reachable:  no (%v)\n", err)
				return err
			}
			fmt.Fprintf(out, "Reachable:  yes (%d ms)\n", h.ResponseTimeMillis)
			fmt.Fprintf(out, "Status:     %s\n", h.Status)
			fmt.Fprintf(out, "FaceFusion: %s\n", yesNo(h.FaceFusionReady))
			fmt.Fprintf(out, "GPU:        %s\n", yesNo(h.GPUAvailable))

			if listScenarios {
				scenarios, err := client.ListScenarios(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(scenarios))
				for _, s := range scenarios {
					rows = append(rows, []string{fmt.Sprint(s.ID), s.Filename})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Scenario"}, rows, []columnAlignment{alignRight, alignLeft}))
			}

			if !h.Healthy() {
				return fmt.Errorf("service reports %q", h.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&listScenarios, "scenarios", false, "Also list the available scenarios")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

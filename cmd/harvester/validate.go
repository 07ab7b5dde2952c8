package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-harvester/internal/config"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and list the detected providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration OK")
			for _, p := range cfg.Providers() {
				q := cfg.Query(p)
				mode := "whole set"
				if p.UseBatches {
					mode = fmt.Sprintf("batches of %d", p.BatchSize)
				}
				fmt.Fprintf(out, "  %-7s %s, %s -> %s\n", p.Name, q, mode, p.AbsFileSaveTo)
			}
			if cfg.Database.Enabled {
				fmt.Fprintf(out, "  artifacts mirrored to postgres %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
			}
			if cfg.Kafka.Enabled {
				fmt.Fprintf(out, "  progress streamed to kafka topic %s\n", cfg.Kafka.Topic)
			}
			return nil
		},
	}
}

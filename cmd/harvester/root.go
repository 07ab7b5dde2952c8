package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest paper metadata from ACM, ScienceDirect and IEEE Xplore",
		Long: `Harvester walks the search results of scholarly publishers and collects
title, link, date, kind, abstract and keywords for every paper found.

Each configured provider runs as an independent pipeline:
  - discovery walks every results page and writes the link file
  - enrichment fetches each paper page in batches, checkpointing after each
  - the final abstract file is written when every paper is processed

An interrupted run resumes from its last checkpoint. Finished artifacts can
be mirrored into PostgreSQL and progress can be streamed to Kafka.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(
		&opts.configFile, "config", "", "config file (default: ./harvester.yaml or ./config/harvester.yaml)",
	)

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	return cmd
}

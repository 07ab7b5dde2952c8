package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/store"
)

func newExportCmd() *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an abstract file as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			artifact, err := store.LoadArtifact(input)
			if err != nil {
				return err
			}

			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return domain.NewStoreError("create export", output, err)
				}
				if err := store.ExportCSV(f, artifact); err != nil {
					f.Close()
					return domain.NewStoreError("export csv", output, err)
				}
				if err := f.Close(); err != nil {
					return domain.NewStoreError("close export", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d items to %s\n", len(artifact.Items), output)
				return nil
			}
			if err := store.ExportCSV(cmd.OutOrStdout(), artifact); err != nil {
				return domain.NewStoreError("export csv", "stdout", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "abstract file to export")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "CSV file to write (- for stdout)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

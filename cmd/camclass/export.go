package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"camclass/pkg/checkpoint"
	"camclass/pkg/export"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render the report from an existing checkpoint",
	Long: `Render the tabular report from the persisted checkpoint without
running any classification. Works on completed, paused and cancelled
runs alike: the report reflects exactly what the checkpoint holds, in
enumeration order.`,
	Example: `  # Export the default checkpoint as CSV
  camclass export

  # Export a detached checkpoint as an HTML table
  camclass export --checkpoint /surveys/old-checkpoint.json --format html`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport()
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file location")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "export format (csv, html)")
	exportCmd.Flags().StringVar(&exportDest, "destination", "", "export destination path")
}

func runExport() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := checkpoint.NewStore(cfg.Checkpoint.Path)
	state, err := store.Load()
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no checkpoint found at %s", store.Path())
	}

	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}

	results := state.OrderedResults()
	if err := export.New(format).Export(results, cfg.Export.Destination); err != nil {
		return err
	}

	fmt.Printf("Report written to %s (%d rows)\n", cfg.Export.Destination, len(results))
	return nil
}

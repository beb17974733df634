package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"camclass/pkg/checkpoint"
	"camclass/pkg/models"
)

// checkpointCmd groups checkpoint maintenance commands
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear the run checkpoint",
}

var checkpointInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a summary of the persisted checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
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
			fmt.Printf("No checkpoint at %s\n", store.Path())
			return nil
		}

		counts := summarize(state)
		fmt.Printf("Checkpoint:  %s\n", store.Path())
		fmt.Printf("Root:        %s\n", state.RootPath)
		fmt.Printf("Results:     %d (%d ok, %d failed, %d skipped)\n",
			len(state.Results),
			counts[models.StatusSuccess],
			counts[models.StatusFailed],
			counts[models.StatusSkipped])
		fmt.Printf("Updated:     %s\n", state.UpdatedAt.Format("2006-01-02 15:04:05"))
		if state.Completed() {
			fmt.Printf("Completed:   %s\n", state.CompletedAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Completed:   no (resume with 'camclass run <root> --resume')")
		}
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the persisted checkpoint and start fresh next run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store := checkpoint.NewStore(cfg.Checkpoint.Path)
		if !store.Exists() {
			fmt.Printf("No checkpoint at %s\n", store.Path())
			return nil
		}

		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("Checkpoint cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointInfoCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)

	checkpointCmd.PersistentFlags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file location")
}

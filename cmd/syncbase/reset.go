package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetSyncStatusCmd = &cobra.Command{
	Use:     "reset-sync-status <collection>",
	GroupID: "sync",
	Short:   "Drop every tombstone and clear sync metadata for a collection",
	Long: `Drops every tombstone, clears last_modified and _status on every
remaining live record, and resets the watermark to zero — the same
operation LocalCollection.ResetSyncStatus performs for a Go caller, used
to force the next sync to re-adopt the entire remote collection.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		b, _ := openBase()
		ctx := context.Background()
		defer b.Close(ctx)

		c, err := b.Collection(ctx, name)
		if err != nil {
			fail("%v", err)
		}

		result, err := c.ResetSyncStatus(ctx)
		if err != nil {
			fail("%v", err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}
		fmt.Printf("%s: tombstones=%d cleared=%d\n", name, result.Tombstones, result.Cleared)
	},
}

func init() {
	rootCmd.AddCommand(resetSyncStatusCmd)
}

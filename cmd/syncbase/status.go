package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/syncbase/internal/collection"
	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/storage"
)

// StatusOutput is the shape of `syncbase status --json`.
type StatusOutput struct {
	Collection   string `json:"collection"`
	LastModified int64  `json:"last_modified"`
	HasWatermark bool   `json:"has_watermark"`
	Pending      int    `json:"pending"`
	Tombstones   int    `json:"tombstones"`
	Total        int    `json:"total"`
}

var statusCmd = &cobra.Command{
	Use:     "status <collection>",
	GroupID: "data",
	Aliases: []string{"stat"},
	Short:   "Show a collection's watermark and pending-change counts",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		b, _ := openBase()
		ctx := context.Background()
		defer b.Close(ctx)

		c, err := b.Collection(ctx, name)
		if err != nil {
			fail("%v", err)
		}

		all, err := c.List(ctx, storage.ListParams{}, collection.ListOptions{IncludeDeleted: true})
		if err != nil {
			fail("%v", err)
		}

		out := StatusOutput{Collection: name, Total: len(all)}
		for _, rec := range all {
			if rec.IsTombstone() {
				out.Tombstones++
				continue
			}
			if rec.Status() != record.StatusSynced {
				out.Pending++
			}
		}

		if ts, ok, wmErr := b.Watermark(ctx, name); wmErr == nil {
			out.LastModified, out.HasWatermark = ts, ok
		}

		if jsonOutput {
			outputJSON(out)
			return
		}
		fmt.Printf("%s: watermark=%d (set=%v) pending=%d tombstones=%d total=%d\n",
			out.Collection, out.LastModified, out.HasWatermark, out.Pending, out.Tombstones, out.Total)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/syncbase/internal/collection"
	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/storage"
)

var collectionCmd = &cobra.Command{
	Use:     "collection",
	GroupID: "data",
	Short:   "Read and write records in a local collection",
}

func parseRecordFlag(data string) record.Record {
	if data == "" {
		return record.Record{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		fail("invalid --data JSON: %v", err)
	}
	return record.Record(m)
}

var (
	createData   string
	createID     string
	createSynced bool
)

var collectionCreateCmd = &cobra.Command{
	Use:   "create <collection>",
	Short: "Create a record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		rec := parseRecordFlag(createData)
		if createID != "" {
			rec[record.FieldID] = createID
		}

		b, _ := openBase()
		defer b.Close(context.Background())

		c, err := b.Collection(context.Background(), name)
		if err != nil {
			fail("%v", err)
		}

		created, err := c.Create(context.Background(), rec, collection.CreateOptions{
			UseRecordID: createID != "",
			Synced:      createSynced,
		})
		if err != nil {
			fail("%v", err)
		}
		printRecord(created)
	},
}

var includeDeletedFlag bool

var collectionGetCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Fetch one record by id",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name, id := args[0], args[1]

		b, _ := openBase()
		defer b.Close(context.Background())

		c, err := b.Collection(context.Background(), name)
		if err != nil {
			fail("%v", err)
		}

		rec, err := c.Get(context.Background(), id, collection.GetOptions{IncludeDeleted: includeDeletedFlag})
		if err != nil {
			fail("%v", err)
		}
		printRecord(rec)
	},
}

var (
	updateData   string
	updatePatch  bool
	updateSynced bool
)

var collectionUpdateCmd = &cobra.Command{
	Use:   "update <collection> <id>",
	Short: "Update a record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name, id := args[0], args[1]
		rec := parseRecordFlag(updateData)
		rec[record.FieldID] = id

		b, _ := openBase()
		defer b.Close(context.Background())

		c, err := b.Collection(context.Background(), name)
		if err != nil {
			fail("%v", err)
		}

		updated, err := c.Update(context.Background(), rec, collection.UpdateOptions{Patch: updatePatch, Synced: updateSynced})
		if err != nil {
			fail("%v", err)
		}
		printRecord(updated)
	},
}

var (
	deleteLocalFlag    bool
	deletePhysicalFlag bool
)

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name, id := args[0], args[1]

		b, _ := openBase()
		defer b.Close(context.Background())

		c, err := b.Collection(context.Background(), name)
		if err != nil {
			fail("%v", err)
		}

		deleted, err := c.Delete(context.Background(), id, collection.DeleteOptions{
			Local:    deleteLocalFlag,
			Physical: deletePhysicalFlag,
		})
		if err != nil {
			fail("%v", err)
		}
		printRecord(deleted)
	},
}

var collectionListCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List records",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		b, _ := openBase()
		defer b.Close(context.Background())

		c, err := b.Collection(context.Background(), name)
		if err != nil {
			fail("%v", err)
		}

		recs, err := c.List(context.Background(), storage.ListParams{}, collection.ListOptions{IncludeDeleted: includeDeletedFlag})
		if err != nil {
			fail("%v", err)
		}
		if jsonOutput {
			outputJSON(recs)
			return
		}
		for _, rec := range recs {
			printRecord(rec)
		}
	},
}

func printRecord(rec record.Record) {
	if jsonOutput {
		outputJSON(rec)
		return
	}
	data, _ := json.MarshalIndent(rec, "", "  ")
	fmt.Println(string(data))
}

func init() {
	collectionCreateCmd.Flags().StringVar(&createData, "data", "", "record fields as a JSON object")
	collectionCreateCmd.Flags().StringVar(&createID, "id", "", "explicit id (otherwise one is generated)")
	collectionCreateCmd.Flags().BoolVar(&createSynced, "synced", false, "mark the new record already synced")

	collectionGetCmd.Flags().BoolVar(&includeDeletedFlag, "include-deleted", false, "allow fetching a tombstone")

	collectionUpdateCmd.Flags().StringVar(&updateData, "data", "", "record fields as a JSON object")
	collectionUpdateCmd.Flags().BoolVar(&updatePatch, "patch", false, "merge fields instead of replacing the record")
	collectionUpdateCmd.Flags().BoolVar(&updateSynced, "synced", false, "mark the update already synced")

	collectionDeleteCmd.Flags().BoolVar(&deleteLocalFlag, "local", false, "delete locally only, without queuing a push")
	collectionDeleteCmd.Flags().BoolVar(&deletePhysicalFlag, "physical", false, "remove the record entirely (virtual=false) instead of leaving a tombstone")

	collectionListCmd.Flags().BoolVar(&includeDeletedFlag, "include-deleted", false, "include tombstones")

	collectionCmd.AddCommand(collectionCreateCmd, collectionGetCmd, collectionUpdateCmd, collectionDeleteCmd, collectionListCmd)
	rootCmd.AddCommand(collectionCmd)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/syncbase/internal/config"
	syncengine "github.com/untoldecay/syncbase/internal/sync"
)

var (
	syncStrategy      string
	syncIgnoreBackoff bool
	syncRetry         int
)

var syncCmd = &cobra.Command{
	Use:     "sync <collection>...",
	GroupID: "sync",
	Short:   "Run pull -> push -> pull for one or more collections",
	Long: `Runs the same pull -> push -> pull reconciliation the library's
SyncEngine performs for a Go caller. With more than one collection name,
each sync is driven independently and concurrently (SyncAll).

In the absence of a real network collaborator, the remote side is a
local JSON snapshot under <data-dir>/remote/<collection>.json, updated
after every sync — enough to exercise the full conflict/reconciliation
machinery from the command line without a server.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		strategy := syncengine.Strategy(syncStrategy)
		if syncStrategy == "" {
			strategy = syncengine.Strategy(cfg.Strategy)
		}

		opts := syncengine.Options{
			Strategy:      strategy,
			Retry:         syncRetry,
			IgnoreBackoff: syncIgnoreBackoff || cfg.IgnoreBackoff,
		}

		b, rs := openBase()
		defer b.Close(context.Background())
		defer rs.Flush()

		ctx := context.Background()
		if len(args) == 1 {
			result, err := b.Sync(ctx, args[0], opts)
			if err != nil {
				rs.Flush() // fail exits, so the deferred Flush would not run
				fail("sync %q: %v", args[0], err)
			}
			reportSyncResult(args[0], result)
			return
		}

		results, err := b.SyncAll(ctx, args, opts)
		if err != nil {
			rs.Flush()
			fail("sync: %v", err)
		}
		for i, name := range args {
			reportSyncResult(name, results[i])
		}
	},
}

func reportSyncResult(name string, result *syncengine.Result) {
	if jsonOutput {
		outputJSON(map[string]any{"collection": name, "result": result})
		return
	}
	fmt.Printf("%s: created=%d updated=%d deleted=%d published=%d conflicts=%d errors=%d\n",
		name, len(result.Created), len(result.Updated), len(result.Deleted),
		len(result.Published), len(result.Conflicts), len(result.Errors))
}

func init() {
	syncCmd.Flags().StringVar(&syncStrategy, "strategy", "", "manual|server_wins|client_wins|pull_only (default from config)")
	syncCmd.Flags().BoolVar(&syncIgnoreBackoff, "ignore-backoff", false, "attempt sync even during a server-declared backoff window")
	syncCmd.Flags().IntVar(&syncRetry, "retry", 0, "retry count hint recorded in sync options")
	rootCmd.AddCommand(syncCmd)
}

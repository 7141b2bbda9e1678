package base

import (
	"context"
	"strings"
	"testing"

	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/remote"
	"github.com/untoldecay/syncbase/internal/storage"
	"github.com/untoldecay/syncbase/internal/storage/memory"
	syncengine "github.com/untoldecay/syncbase/internal/sync"
)

func newTestBase(fakes map[string]*remote.Fake) *Base {
	return New(Options{
		Bucket:         "test",
		AdapterFactory: func(storage.Key) storage.Adapter { return memory.New() },
		RemoteFactory: func(name string) remote.Collection {
			f, ok := fakes[name]
			if !ok {
				f = remote.NewFake()
				fakes[name] = f
			}
			return f.Collection()
		},
	})
}

func TestCollectionIsCachedAcrossCalls(t *testing.T) {
	b := newTestBase(map[string]*remote.Fake{})
	ctx := context.Background()

	c1, err := b.Collection(ctx, "articles")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	c2, err := b.Collection(ctx, "articles")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected the same *Collection instance on repeated calls")
	}
}

func TestCollectionWithoutAdapterFactoryErrors(t *testing.T) {
	b := New(Options{})
	if _, err := b.Collection(context.Background(), "articles"); err == nil {
		t.Fatalf("expected error with no AdapterFactory configured")
	}
}

func TestSyncEmitsSuccessEvent(t *testing.T) {
	fakes := map[string]*remote.Fake{"articles": remote.NewFake()}
	fakes["articles"].Seed(record.Record{"id": "a", "title": "one"})
	b := newTestBase(fakes)
	ctx := context.Background()

	var gotEvent SyncSuccessEvent
	fired := false
	b.Events().On("sync:success:articles", func(payload any) {
		gotEvent = payload.(SyncSuccessEvent)
		fired = true
	})

	result, err := b.Sync(ctx, "articles", syncengine.Options{Strategy: syncengine.StrategyManual})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !fired {
		t.Fatalf("expected sync:success:articles to fire")
	}
	if gotEvent.Collection != "articles" || gotEvent.Bucket != "test" {
		t.Fatalf("unexpected event payload: %+v", gotEvent)
	}
	if gotEvent.Result != result {
		t.Fatalf("expected event to carry the same result pointer returned by Sync")
	}
}

func TestSyncWithoutRemoteFactoryErrors(t *testing.T) {
	b := New(Options{AdapterFactory: func(storage.Key) storage.Adapter { return memory.New() }})
	if _, err := b.Sync(context.Background(), "articles", syncengine.Options{}); err == nil {
		t.Fatalf("expected error with no RemoteFactory configured")
	}
}

func TestSyncAllRunsEveryCollectionAndReturnsResultsInOrder(t *testing.T) {
	fakes := map[string]*remote.Fake{
		"articles": remote.NewFake(),
		"tags":     remote.NewFake(),
	}
	fakes["articles"].Seed(record.Record{"id": "a1", "title": "one"})
	fakes["tags"].Seed(record.Record{"id": "t1", "title": "go"})
	b := newTestBase(fakes)

	names := []string{"articles", "tags"}
	results, err := b.SyncAll(context.Background(), names, syncengine.Options{Strategy: syncengine.StrategyManual})
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(results) != 2 || results[0] == nil || results[1] == nil {
		t.Fatalf("expected two non-nil results, got %+v", results)
	}
	if len(results[0].Created) != 1 || results[0].Created[0].ID() != "a1" ||
		len(results[1].Created) != 1 || results[1].Created[0].ID() != "t1" {
		t.Fatalf("expected results in names order (a1, then t1), got %+v / %+v", results[0].Created, results[1].Created)
	}
}

func TestWatermarkReportsUnsetBeforeFirstSync(t *testing.T) {
	b := newTestBase(map[string]*remote.Fake{})
	ts, ok, err := b.Watermark(context.Background(), "articles")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if ok || ts != 0 {
		t.Fatalf("expected unset watermark before any sync, got ts=%d ok=%v", ts, ok)
	}
}

func TestWatermarkAdvancesAfterSync(t *testing.T) {
	fakes := map[string]*remote.Fake{"articles": remote.NewFake()}
	fakes["articles"].Seed(record.Record{"id": "a", "title": "one"})
	b := newTestBase(fakes)
	ctx := context.Background()

	result, err := b.Sync(ctx, "articles", syncengine.Options{Strategy: syncengine.StrategyManual})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	ts, ok, err := b.Watermark(ctx, "articles")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if !ok || ts != result.LastModified {
		t.Fatalf("expected watermark %d, got %d (ok=%v)", result.LastModified, ts, ok)
	}
}

func TestExportMetadataIncludesWatermark(t *testing.T) {
	fakes := map[string]*remote.Fake{"articles": remote.NewFake()}
	fakes["articles"].Seed(record.Record{"id": "a", "title": "one"})
	b := newTestBase(fakes)
	ctx := context.Background()

	if _, err := b.Sync(ctx, "articles", syncengine.Options{Strategy: syncengine.StrategyManual}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	out, err := b.ExportMetadata(ctx, "articles")
	if err != nil {
		t.Fatalf("ExportMetadata: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty YAML output")
	}
	if !strings.Contains(string(out), "last_modified: 1") {
		t.Fatalf("expected watermark 1 in YAML output, got:\n%s", out)
	}
}

func TestCloseClosesEveryOpenedAdapter(t *testing.T) {
	b := newTestBase(map[string]*remote.Fake{})
	ctx := context.Background()
	if _, err := b.Collection(ctx, "articles"); err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

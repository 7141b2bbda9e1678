package main

import (
	"context"
	"testing"

	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/remote"
)

func TestRemoteStoreFlushThenReopenPreservesState(t *testing.T) {
	dir := t.TempDir()

	s1 := newRemoteStore(dir)
	s1.fake("articles").Seed(record.Record{"id": "a", "title": "one"})
	if err := s1.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	s2 := newRemoteStore(dir)
	snap := s2.fake("articles").Dump()
	if len(snap.Records) != 1 || snap.Records[0].ID() != "a" {
		t.Fatalf("expected reopened store to see the seeded record, got %+v", snap.Records)
	}
}

func TestRemoteStoreFakeIsCachedPerName(t *testing.T) {
	dir := t.TempDir()
	s := newRemoteStore(dir)

	f1 := s.fake("articles")
	f2 := s.fake("articles")
	if f1 != f2 {
		t.Fatalf("expected the same *remote.Fake instance for repeated calls with the same name")
	}
}

func TestRemoteStoreFactoryReturnsAUsableCollection(t *testing.T) {
	dir := t.TempDir()
	s := newRemoteStore(dir)
	s.fake("articles").Seed(record.Record{"id": "a", "title": "one"})

	col := s.Factory("articles")
	result, err := col.ListRecords(context.Background(), remote.ListParams{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(result.Data) != 1 || result.Data[0].ID() != "a" {
		t.Fatalf("expected one seeded record, got %+v", result.Data)
	}
}

package hooks

import (
	"errors"
	"testing"

	"github.com/untoldecay/syncbase/internal/syncerr"
)

func TestRunThreadsPayloadThroughChain(t *testing.T) {
	p := New()
	p.Register("incoming-changes", func(payload any) (any, error) {
		ic := payload.(IncomingChanges)
		ic.LastModified++
		return ic, nil
	})
	p.Register("incoming-changes", func(payload any) (any, error) {
		ic := payload.(IncomingChanges)
		ic.Changes = append(ic.Changes, map[string]any{"id": "extra"})
		return ic, nil
	})

	out, err := p.Run(IncomingChangesHook, IncomingChanges{LastModified: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ic := out.(IncomingChanges)
	if ic.LastModified != 11 {
		t.Fatalf("got %d, want 11", ic.LastModified)
	}
	if len(ic.Changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(ic.Changes))
	}
}

func TestRunWithNoHooksIsIdentity(t *testing.T) {
	p := New()
	out, err := p.Run("incoming-changes", IncomingChanges{LastModified: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.(IncomingChanges).LastModified != 5 {
		t.Fatalf("expected unchanged payload")
	}
}

func TestRunFailsWithHookContractErrorOnHookError(t *testing.T) {
	p := New()
	p.Register("incoming-changes", func(any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := p.Run("incoming-changes", IncomingChanges{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := err.(*syncerr.HookContractError); !ok {
		t.Fatalf("expected *syncerr.HookContractError, got %T", err)
	}
}

func TestRunFailsWhenHookDropsPayload(t *testing.T) {
	p := New()
	p.Register("incoming-changes", func(any) (any, error) {
		return nil, nil
	})
	_, err := p.Run("incoming-changes", IncomingChanges{LastModified: 1})
	if err == nil {
		t.Fatalf("expected HookContractError")
	}
}

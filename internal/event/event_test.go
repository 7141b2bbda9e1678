package event

import "testing"

func TestEmitRunsListenersInRegistrationOrder(t *testing.T) {
	bus := New()
	var order []int

	bus.On("change:articles", func(any) { order = append(order, 1) })
	bus.On("change:articles", func(any) { order = append(order, 2) })
	bus.On("change:articles", func(any) { order = append(order, 3) })

	bus.Emit("change:articles", Change{})

	if len(order) != 3 {
		t.Fatalf("expected 3 listener calls, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("expected registration order [1 2 3], got %v", order)
		}
	}
}

func TestEmitOnlyRunsListenersForTheGivenTopic(t *testing.T) {
	bus := New()
	var createFired, deleteFired bool

	bus.On("create:articles", func(any) { createFired = true })
	bus.On("delete:articles", func(any) { deleteFired = true })

	bus.Emit("create:articles", Target{Action: ActionCreate})

	if !createFired {
		t.Fatalf("expected create:articles listener to fire")
	}
	if deleteFired {
		t.Fatalf("expected delete:articles listener not to fire")
	}
}

func TestEmitWithNoListenersDoesNotPanic(t *testing.T) {
	bus := New()
	bus.Emit("change:nothing", Change{})
}

func TestEmitPassesPayloadThrough(t *testing.T) {
	bus := New()
	target := Target{Action: ActionUpdate, Data: map[string]any{"id": "1"}, HadOld: true}

	var got Target
	bus.On("update:articles", func(payload any) {
		got = payload.(Target)
	})
	bus.Emit("update:articles", target)

	if got.Action != ActionUpdate || got.Data["id"] != "1" || !got.HadOld {
		t.Fatalf("unexpected payload delivered: %+v", got)
	}
}

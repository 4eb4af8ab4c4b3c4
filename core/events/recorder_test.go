package events

import (
	"testing"
	"time"

	"rentescrow/core/types"
)

type testEvent struct {
	evt *types.Event
}

func (e testEvent) EventType() string   { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func emitN(r *Recorder, n int) {
	for i := 0; i < n; i++ {
		r.Emit(testEvent{evt: &types.Event{Type: "test.event", Attributes: map[string]string{"n": string(rune('a' + i))}}})
	}
}

func TestRecorderBoundsHistory(t *testing.T) {
	r := NewRecorder(3)
	emitN(r, 5)
	recent := r.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(recent))
	}
	if recent[0].Sequence != 3 || recent[2].Sequence != 5 {
		t.Fatalf("unexpected sequences %d..%d", recent[0].Sequence, recent[2].Sequence)
	}
	if recent[2].Attributes["n"] != "e" {
		t.Fatalf("unexpected attributes %v", recent[2].Attributes)
	}
	if recent[0].ID == "" || recent[0].ID == recent[1].ID {
		t.Fatalf("expected unique entry ids")
	}
	if got := r.Recent(2); len(got) != 2 || got[0].Sequence != 4 {
		t.Fatalf("unexpected recent window %+v", got)
	}
	if got := r.Since(4); len(got) != 1 || got[0].Sequence != 5 {
		t.Fatalf("unexpected since result %+v", got)
	}
}

func TestRecorderReturnsCopies(t *testing.T) {
	r := NewRecorder(0)
	emitN(r, 1)
	first := r.Recent(1)
	first[0].Attributes["n"] = "mutated"
	if r.Recent(1)[0].Attributes["n"] != "a" {
		t.Fatalf("history was mutated through a returned entry")
	}
}

func TestRecorderSubscribe(t *testing.T) {
	r := NewRecorder(4)
	ch, cancel := r.Subscribe(1)
	emitN(r, 2)

	select {
	case entry := <-ch:
		if entry.Sequence != 1 {
			t.Fatalf("unexpected first sequence %d", entry.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for entry")
	}
	select {
	case entry := <-ch:
		t.Fatalf("expected overflow to be dropped, got %d", entry.Sequence)
	default:
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after cancel")
	}
	emitN(r, 1)
}

func TestMultiSkipsNil(t *testing.T) {
	r := NewRecorder(2)
	Multi{nil, r, NoopEmitter{}}.Emit(testEvent{evt: &types.Event{Type: "x"}})
	if len(r.Recent(0)) != 1 {
		t.Fatalf("expected recorder to receive event")
	}
	if PayloadOf(nil) != nil {
		t.Fatalf("expected nil payload for nil event")
	}
}

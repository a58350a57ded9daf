package providers

import (
	"testing"
)

func TestAccumulatorLifecycle(t *testing.T) {
	accum := newCallAccumulator(nil)

	accum.Start(0, "call_1", "read_file")
	accum.AppendArgs(0, `{"path":`)
	accum.AppendArgs(0, `"a.txt"}`)

	call, ok := accum.Finish(0)
	if !ok {
		t.Fatal("Finish() returned no call")
	}
	if call.ID != "call_1" || call.Function.Name != "read_file" {
		t.Errorf("identity = %q/%q", call.ID, call.Function.Name)
	}
	if len(call.Function.Arguments) != 1 || call.Function.Arguments[0] != `{"path":"a.txt"}` {
		t.Errorf("arguments = %v", call.Function.Arguments)
	}
	if accum.Len() != 0 {
		t.Errorf("accumulator not drained, %d pending", accum.Len())
	}
}

func TestAccumulatorInvalidJSONBecomesEmptyObject(t *testing.T) {
	accum := newCallAccumulator(nil)
	accum.Start(0, "call_1", "broken")
	accum.AppendArgs(0, `{"path": "trunc`)

	call, ok := accum.Finish(0)
	if !ok {
		t.Fatal("Finish() returned no call")
	}
	if call.Function.Arguments[0] != "{}" {
		t.Errorf("arguments = %v, want empty object", call.Function.Arguments)
	}
}

func TestAccumulatorEmptyBufferBecomesEmptyObject(t *testing.T) {
	accum := newCallAccumulator(nil)
	accum.Start(0, "call_1", "no_args")

	call, ok := accum.Finish(0)
	if !ok || call.Function.Arguments[0] != "{}" {
		t.Errorf("got (%v, %v), want empty object", call, ok)
	}
}

func TestAccumulatorImplicitEntry(t *testing.T) {
	accum := newCallAccumulator(nil)

	// Fragment before any start creates an implicit entry.
	accum.AppendArgs(2, `{"x":1}`)
	accum.Start(2, "call_late", "late_tool")

	call, ok := accum.Finish(2)
	if !ok || call.ID != "call_late" || call.Function.Arguments[0] != `{"x":1}` {
		t.Errorf("got (%v, %v)", call, ok)
	}
}

func TestAccumulatorDropsCallWithoutID(t *testing.T) {
	accum := newCallAccumulator(nil)
	accum.AppendArgs(0, `{"x":1}`)

	if _, ok := accum.Finish(0); ok {
		t.Error("call without id should be dropped")
	}
}

func TestAccumulatorSetArgsWins(t *testing.T) {
	accum := newCallAccumulator(nil)
	accum.Start(0, "call_1", "tool")
	accum.AppendArgs(0, `{"partial":`)
	accum.SetArgs(0, `{"complete":true}`)
	// Fragments arriving after the done payload are ignored.
	accum.AppendArgs(0, `garbage`)

	call, ok := accum.Finish(0)
	if !ok || call.Function.Arguments[0] != `{"complete":true}` {
		t.Errorf("arguments = %v", call.Function.Arguments)
	}
}

func TestAccumulatorFinishAllOrder(t *testing.T) {
	accum := newCallAccumulator(nil)
	accum.Start(3, "call_c", "third")
	accum.Start(1, "call_a", "first")
	accum.Start(2, "call_b", "second")

	calls := accum.FinishAll()
	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(calls))
	}
	if calls[0].ID != "call_a" || calls[1].ID != "call_b" || calls[2].ID != "call_c" {
		t.Errorf("order = %s, %s, %s", calls[0].ID, calls[1].ID, calls[2].ID)
	}
	if calls[0].Index != 1 || calls[2].Index != 3 {
		t.Errorf("indexes not preserved: %d, %d", calls[0].Index, calls[2].Index)
	}
}

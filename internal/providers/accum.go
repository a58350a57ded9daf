package providers

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/neuromance/neuromance/internal/core"
)

// callAccumulator assembles streamed tool calls, keyed by the
// provider-assigned index within the output. Each entry moves through
// started -> accumulating -> finalized; finalization removes it.
type callAccumulator struct {
	pending map[int]*pendingCall
	logger  *slog.Logger
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
	done bool // an explicit arguments-done event already supplied the args
}

func newCallAccumulator(logger *slog.Logger) *callAccumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &callAccumulator{pending: make(map[int]*pendingCall), logger: logger}
}

// Start records a new in-progress call. A fragment arriving for an index
// that was never started creates an implicit entry, so Start is also
// safe to call late with the id and name once they arrive.
func (a *callAccumulator) Start(index int, id, name string) {
	entry, ok := a.pending[index]
	if !ok {
		entry = &pendingCall{}
		a.pending[index] = entry
	}
	if entry.id == "" {
		entry.id = id
	}
	if entry.name == "" {
		entry.name = name
	}
}

// AppendArgs adds an argument fragment to the call at index, creating an
// implicit entry when no start was seen.
func (a *callAccumulator) AppendArgs(index int, fragment string) {
	entry, ok := a.pending[index]
	if !ok {
		entry = &pendingCall{}
		a.pending[index] = entry
	}
	if !entry.done {
		entry.args.WriteString(fragment)
	}
}

// SetArgs replaces whatever accumulated so far with the complete argument
// payload from an explicit arguments-done event. Later fragments for the
// same index are ignored.
func (a *callAccumulator) SetArgs(index int, args string) {
	entry, ok := a.pending[index]
	if !ok {
		entry = &pendingCall{}
		a.pending[index] = entry
	}
	entry.args.Reset()
	entry.args.WriteString(args)
	entry.done = true
}

// Finish finalizes the call at index and removes it. The accumulated
// buffer must parse as JSON; otherwise the call carries an empty object
// and the malformed payload is logged. Entries that never received an id
// are dropped.
func (a *callAccumulator) Finish(index int) (core.ToolCall, bool) {
	entry, ok := a.pending[index]
	if !ok {
		return core.ToolCall{}, false
	}
	delete(a.pending, index)

	if entry.id == "" {
		a.logger.Warn("dropping streamed tool call with no id", "index", index, "name", entry.name)
		return core.ToolCall{}, false
	}

	args := strings.TrimSpace(entry.args.String())
	if args == "" {
		args = "{}"
	} else if !json.Valid([]byte(args)) {
		a.logger.Warn("streamed tool call has invalid JSON arguments",
			"index", index, "name", entry.name, "bytes", len(args))
		args = "{}"
	}

	call := core.NewToolCall(entry.id, entry.name, args)
	call.Index = index
	return call, true
}

// FinishAll finalizes every remaining entry in index order. Used when the
// stream terminates without explicit per-call stop events.
func (a *callAccumulator) FinishAll() []core.ToolCall {
	indexes := make([]int, 0, len(a.pending))
	for idx := range a.pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var calls []core.ToolCall
	for _, idx := range indexes {
		if call, ok := a.Finish(idx); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// Has reports whether a call at index is still in progress.
func (a *callAccumulator) Has(index int) bool {
	_, ok := a.pending[index]
	return ok
}

// Len reports the number of in-progress calls.
func (a *callAccumulator) Len() int { return len(a.pending) }

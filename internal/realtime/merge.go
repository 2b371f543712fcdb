package realtime

import (
	"reflect"

	"dilag/internal/types"
)

// mergePart inserts or replaces incoming within parts and reports whether
// anything changed. The slice is copied on write.
func mergePart(parts []types.Part, incoming types.Part) ([]types.Part, bool) {
	id := incoming.Base().ID
	for i, existing := range parts {
		if existing.Base().ID != id {
			continue
		}
		next, ok := reconcilePart(existing, incoming)
		if !ok || reflect.DeepEqual(existing, next) {
			return parts, false
		}
		out := append([]types.Part(nil), parts...)
		out[i] = next
		return out, true
	}
	out := append(append([]types.Part(nil), parts...), incoming)
	return out, true
}

// reconcilePart decides the stored value when incoming replaces existing.
// It returns false when incoming is stale.
func reconcilePart(existing, incoming types.Part) (types.Part, bool) {
	prev, next := existing.Base().Revision, incoming.Base().Revision
	if prev > 0 && next > 0 && next < prev {
		return existing, false
	}
	oldTool, oldOK := existing.(types.ToolPart)
	newTool, newOK := incoming.(types.ToolPart)
	if !oldOK || !newOK {
		return incoming, true
	}
	if newTool.State.Status.Rank() < oldTool.State.Status.Rank() {
		return existing, false
	}
	if oldTool.State.Status.Terminal() && newTool.State.Status != oldTool.State.Status {
		return existing, false
	}
	return mergeToolPart(oldTool, newTool), true
}

// mergeToolPart keeps fields the runtime omits from later snapshots.
func mergeToolPart(existing, incoming types.ToolPart) types.ToolPart {
	if incoming.CallID == "" {
		incoming.CallID = existing.CallID
	}
	if incoming.Tool == "" {
		incoming.Tool = existing.Tool
	}
	state := incoming.State
	if state.Input == nil {
		state.Input = existing.State.Input
	}
	if state.Title == "" {
		state.Title = existing.State.Title
	}
	if state.Metadata == nil {
		state.Metadata = existing.State.Metadata
	}
	if state.Time == nil {
		state.Time = existing.State.Time
	} else if existing.State.Time != nil && state.Time.Start == 0 {
		t := *state.Time
		t.Start = existing.State.Time.Start
		state.Time = &t
	}
	incoming.State = state
	return incoming
}

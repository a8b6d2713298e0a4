package events

import (
	"sort"
	"time"
)

// TraceEntry is one persisted debug-log row as read back from storage: the
// hook invocation record plus the fallback timestamp it was logged with.
type TraceEntry struct {
	Hook      string
	CallID    string
	TraceID   string
	Original  map[string]any
	Result    map[string]any
	Fallback  int64 // unix nanoseconds
}

// Rebuild reconstructs the Events for a whole call from its persisted debug
// log, the read path's equivalent of Build. One Builder over indices serves
// every entry; the store keys its counters by call_id, so entries for
// different calls in one trace table scan advance separate counters.
func Rebuild(entries []TraceEntry, indices *ChunkIndexStore) []Event {
	builder := NewBuilder(indices)
	var all []Event
	for _, e := range entries {
		fallback := nsToTime(e.Fallback)
		all = append(all, builder.Build(e.Hook, e.CallID, e.TraceID, e.Original, e.Result, fallback)...)
	}
	SortEvents(all)
	return all
}

func nsToTime(ns int64) time.Time {
	return time.Unix(0, ns)
}

// SortEvents orders events by (sequence, timestamp, kind), the stable total
// order consumers of reconstructed history must see regardless of which
// order entries were scanned in.
func SortEvents(all []Event) {
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Sequence != all[j].Sequence {
			return all[i].Sequence < all[j].Sequence
		}
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].Kind < all[j].Kind
	})
}

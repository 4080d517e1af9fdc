package cli

import "bizsim/internal/game"

// EventFilter drops events that arrive after a later one from the same game.
type EventFilter struct {
	last map[string]int64
}

func (f *EventFilter) Accept(ev game.Event) bool {
	if ev.Seq == 0 {
		return true
	}
	if f.last == nil {
		f.last = make(map[string]int64)
	}
	if ev.Seq <= f.last[ev.GameID] {
		return false
	}
	f.last[ev.GameID] = ev.Seq
	return true
}

// Package reconcile classifies a batch of fetched events into per-event
// actions: which previously-scheduled jobs to cancel and which new
// commands to schedule.
package reconcile

import (
	"gcalat/internal/command"
	"gcalat/internal/log"
	"gcalat/internal/model"
)

// Planner turns fetched events into ordered actions.
type Planner struct {
	Parser *command.Parser
}

// Plan emits one action per actionable event, preserving fetch order.
//
//   - cancelled events yield a cancel-only action
//   - confirmed events without a description are skipped entirely
//   - confirmed events with a description run through the parser; zero
//     surviving entries (all past-due) still yield a cancel-only action
//
// A parse failure skips only that event; the rest of the batch proceeds.
// Duplicate event ids across overlapping fetch windows are passed
// through; cancelling an already-absent job id downstream is a no-op.
func (p *Planner) Plan(events []model.Event) []model.EventAction {
	actions := make([]model.EventAction, 0, len(events))
	for _, ev := range events {
		if ev.Status == model.StatusCancelled {
			log.Info("event cancelled", "event_id", ev.ID)
			actions = append(actions, model.EventAction{EventID: ev.ID})
			continue
		}
		if ev.Description == "" {
			// No command intent, and never previously schedulable.
			continue
		}
		entries, err := p.Parser.Parse(ev)
		if err != nil {
			log.Error("skipping event", err, "event_id", ev.ID, "phase", "parse")
			continue
		}
		actions = append(actions, model.EventAction{EventID: ev.ID, Entries: entries})
	}
	return actions
}

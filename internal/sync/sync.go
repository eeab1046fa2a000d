// Package sync drives one synchronization cycle: fetch events inside
// the horizon, reconcile them against the remembered job state, apply
// cancellations then creations to the OS job queue, and persist.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gcalat/internal/atq"
	"gcalat/internal/calendar"
	"gcalat/internal/log"
	"gcalat/internal/model"
	"gcalat/internal/reconcile"
	"gcalat/internal/state"
)

// DefaultHorizonDays is how far ahead events are synchronized when the
// orchestrator is not configured otherwise.
const DefaultHorizonDays = 7

// Orchestrator owns one sync state store and runs cycles against a
// calendar source and a job scheduler. The store is not locked; Run
// serializes itself instead, skipping a trigger that arrives while a
// cycle is still in flight.
type Orchestrator struct {
	Source    calendar.Source
	Scheduler atq.Scheduler
	Store     *state.Store

	// HorizonDays defaults to DefaultHorizonDays when <= 0.
	HorizonDays int
	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time

	Planner *reconcile.Planner

	// runMu serializes cycles. An overlapping trigger is skipped rather
	// than queued, so slow cycles cannot pile up behind each other.
	runMu sync.Mutex
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) horizon() int {
	if o.HorizonDays > 0 {
		return o.HorizonDays
	}
	return DefaultHorizonDays
}

// Run executes one cycle. A Run that arrives while another is still in
// flight returns immediately; the next trigger covers the same work. On
// a fetch failure nothing is mutated and the next run retries the same
// window; a persistence failure is returned after the OS-level changes
// already happened (the next cycle re-cancels ids that are already
// gone, which is a no-op).
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.runMu.TryLock() {
		log.Warn("sync cycle still running, skipping trigger")
		return nil
	}
	defer o.runMu.Unlock()

	now := o.now()
	events, err := o.fetch(ctx, now)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	log.Info("events fetched", "count", len(events))

	actions := o.Planner.Plan(events)

	// All cancellations first, batched, so a rescheduled event never has
	// old and new jobs active at once.
	var stale []string
	for _, a := range actions {
		stale = append(stale, o.Store.RecordCancel(a.EventID)...)
	}
	if len(stale) > 0 {
		log.Info("cancelling stale jobs", "count", len(stale))
		if err := o.Scheduler.Cancel(ctx, stale); err != nil {
			// Best-effort: the target jobs may have already fired.
			log.Warn("cancel request failed", "detail", err)
		}
	}

	for _, a := range actions {
		for _, entry := range a.Entries {
			id, err := o.Scheduler.Schedule(ctx, entry.ExecTime, entry.Command)
			if err != nil {
				log.Error("dropping command entry", err,
					"event_id", a.EventID, "phase", "schedule",
					"exec_time", entry.ExecTime.Format(time.RFC3339))
				continue
			}
			o.Store.RecordSchedule(a.EventID, entry.ExecTime, id)
			log.Debug("job scheduled", "event_id", a.EventID, "job_id", id)
		}
	}

	if n := o.Store.Expire(now); n > 0 {
		log.Debug("expired job records", "count", n)
	}

	o.Store.SetLastSync(now)
	if err := o.Store.Save(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	log.Info("sync cycle complete", "actions", len(actions), "records", o.Store.Len())
	return nil
}

// fetch computes the query windows for this cycle and concatenates the
// results. With a prior last_sync the fetch splits into (a) events in
// [now, last_sync+horizon] modified since last_sync and (b) all events
// in [last_sync+horizon, now+horizon] newly inside the horizon.
// Duplicates across the windows are tolerated downstream.
func (o *Orchestrator) fetch(ctx context.Context, now time.Time) ([]model.Event, error) {
	days := o.horizon()
	end := now.AddDate(0, 0, days)

	var queries []calendar.Query
	if ls := o.Store.LastSync(); ls != nil {
		mid := ls.AddDate(0, 0, days)
		if mid.After(now) {
			updatedMin := *ls
			queries = append(queries,
				calendar.Query{TimeMin: now, TimeMax: mid, UpdatedMin: &updatedMin},
				calendar.Query{TimeMin: mid, TimeMax: end},
			)
		} else {
			// The last sync is older than the horizon; the split windows
			// would be empty or inverted, so fetch everything fresh.
			queries = append(queries, calendar.Query{TimeMin: now, TimeMax: end})
		}
	} else {
		queries = append(queries, calendar.Query{TimeMin: now, TimeMax: end})
	}

	var events []model.Event
	for _, q := range queries {
		evs, err := o.Source.Events(ctx, q)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

// Reset cancels every recorded job, clears the store and the sync
// watermark, and persists. The next Run starts from scratch.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	ids := o.Store.ResetAll()
	if len(ids) > 0 {
		log.Info("reset: cancelling all jobs", "count", len(ids))
		if err := o.Scheduler.Cancel(ctx, ids); err != nil {
			log.Warn("cancel request failed", "detail", err)
		}
	}
	o.Store.ClearLastSync()
	if err := o.Store.Save(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

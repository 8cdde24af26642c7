// Package reaper times out jobs that stopped making progress.
//
// A [Reaper] periodically lists processing jobs whose started_at plus
// timeout_seconds has passed (by the store's clock) and moves each to
// timeout through the orchestrator. It also sweeps pending jobs that were
// never picked up, for example because the process crashed between
// creating the job and publishing its message.
//
// The sweep keeps no state, so any number of reapers may run against the
// same store. Losing a race against a worker's own completion is an
// ordinary outcome, counted in [Result].Raced.
//
// Schedules are a fixed interval or a cron expression:
//
//	r := reaper.New(orch, reaper.WithInterval(5*time.Second))
//
//	sched, _ := reaper.ParseSchedule("@every 10s")
//	r := reaper.New(orch, reaper.WithSchedule(sched))
package reaper

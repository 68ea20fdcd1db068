// Package daemon is the long-running loop: watcher polls, scheduler ticks,
// and a heartbeat, all owned by one event loop and stopped by context
// cancellation. Poll failures are logged and swallowed; the next tick
// retries.
package daemon

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/darbylab/darby/internal/config"
	"github.com/darbylab/darby/internal/metrics"
	"github.com/darbylab/darby/internal/task"
	"github.com/darbylab/darby/internal/watch"
)

// HeartbeatInterval is fixed; the heartbeat is diagnostics, not work.
const HeartbeatInterval = 300 * time.Second

// pollBudget bounds a single watcher's Poll call inside one tick.
const pollBudget = 30 * time.Second

// TaskExecutor runs a task string the way an interactive request would run.
type TaskExecutor func(ctx context.Context, input string) (string, error)

// Router consumes the events a watcher tick produces.
type Router interface {
	Handle(ctx context.Context, ev watch.Event) error
}

// Options wires the daemon's collaborators. An empty watcher set (or nil
// Cursors/Router) disables the listener; nil Tasks or Execute disables the
// scheduler.
type Options struct {
	PollInterval time.Duration
	TickInterval time.Duration
	Watchers     []watch.Watcher
	Cursors      *watch.Store
	Router       Router
	Tasks        *task.Store
	Execute      TaskExecutor
}

// Daemon owns the loop's timers and counters.
type Daemon struct {
	opts    Options
	started time.Time

	polls      atomic.Uint64
	events     atomic.Uint64
	ticks      atomic.Uint64
	executions atomic.Uint64
}

// New applies the interval floors and builds the daemon.
func New(opts Options) *Daemon {
	if opts.PollInterval < config.MinPollInterval {
		opts.PollInterval = config.MinPollInterval
	}
	if opts.TickInterval < config.MinTickInterval {
		opts.TickInterval = config.MinTickInterval
	}
	return &Daemon{opts: opts}
}

// Stats is a snapshot of the loop counters for status surfaces.
type Stats struct {
	StartedAt  time.Time `json:"started_at"`
	Polls      uint64    `json:"polls"`
	Events     uint64    `json:"events"`
	Ticks      uint64    `json:"ticks"`
	Executions uint64    `json:"executions"`
	Pending    int       `json:"pending_tasks"`
}

// Stats reads the counters. Safe to call while Run is live.
func (d *Daemon) Stats() Stats {
	s := Stats{
		StartedAt:  d.started,
		Polls:      d.polls.Load(),
		Events:     d.events.Load(),
		Ticks:      d.ticks.Load(),
		Executions: d.executions.Load(),
	}
	if d.opts.Tasks != nil {
		s.Pending = d.opts.Tasks.Pending()
	}
	return s
}

func (d *Daemon) listenerEnabled() bool {
	return len(d.opts.Watchers) > 0 && d.opts.Cursors != nil && d.opts.Router != nil
}

func (d *Daemon) schedulerEnabled() bool {
	return d.opts.Tasks != nil && d.opts.Execute != nil
}

// Run blocks on the event loop until ctx is canceled, then returns nil.
// Ticks run inline: a poll or task execution finishes before the next timer
// event is handled.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = time.Now()
	d.banner()

	// Disabled subsystems get a nil channel, which never fires.
	var watchC, schedC <-chan time.Time
	if d.listenerEnabled() {
		t := time.NewTicker(d.opts.PollInterval)
		defer t.Stop()
		watchC = t.C
	}
	if d.schedulerEnabled() {
		t := time.NewTicker(d.opts.TickInterval)
		defer t.Stop()
		schedC = t.C
	}
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	// Work that is already waiting should not wait a full interval.
	d.pollWatchers(ctx)
	d.runDue(ctx)

	for {
		select {
		case <-watchC:
			d.pollWatchers(ctx)
		case <-schedC:
			d.runDue(ctx)
		case <-heartbeat.C:
			d.heartbeat()
		case <-ctx.Done():
			log.Info().Msg("Daemon loop stopped")
			return nil
		}
	}
}

func (d *Daemon) banner() {
	names := make([]string, 0, len(d.opts.Watchers))
	for _, w := range d.opts.Watchers {
		names = append(names, w.ID())
	}
	ev := log.Info().
		Strs("watchers", names).
		Bool("scheduler", d.schedulerEnabled()).
		Dur("poll_interval", d.opts.PollInterval).
		Dur("tick_interval", d.opts.TickInterval)
	if d.opts.Tasks != nil {
		ev = ev.Int("pending_tasks", d.opts.Tasks.Pending())
	}
	ev.Msg("Darby daemon started")
}

// pollWatchers runs one listener tick: every watcher polls once, fresh
// events go to the router. A failing watcher never blocks its peers.
func (d *Daemon) pollWatchers(ctx context.Context) {
	if !d.listenerEnabled() {
		return
	}
	for _, w := range d.opts.Watchers {
		if ctx.Err() != nil {
			return
		}
		d.pollOne(ctx, w)
	}
}

func (d *Daemon) pollOne(ctx context.Context, w watch.Watcher) {
	d.polls.Add(1)

	cursor, err := d.opts.Cursors.Cursor(w.ID())
	if err != nil {
		metrics.RecordWatcherPoll(w.ID(), 0, err)
		log.Warn().Err(err).Str("watcher", w.ID()).Msg("Cursor read failed")
		return
	}

	pollCtx, cancel := context.WithTimeout(ctx, pollBudget)
	polled, next, err := w.Poll(pollCtx, cursor)
	cancel()
	if err != nil {
		metrics.RecordWatcherPoll(w.ID(), 0, err)
		log.Warn().Err(err).Str("watcher", w.ID()).Msg("Watcher poll failed")
		return
	}

	// Commit before dispatch: if the cursor write fails, nothing is handled
	// and the next tick re-polls from the old cursor.
	fresh, err := d.opts.Cursors.Commit(w.ID(), next, polled)
	if err != nil {
		metrics.RecordWatcherPoll(w.ID(), 0, err)
		log.Warn().Err(err).Str("watcher", w.ID()).Msg("Cursor commit failed; events deferred to next tick")
		return
	}
	metrics.RecordWatcherPoll(w.ID(), len(fresh), nil)

	for _, ev := range fresh {
		d.events.Add(1)
		if err := d.opts.Router.Handle(ctx, ev); err != nil {
			log.Warn().
				Err(err).
				Str("watcher", ev.WatcherID).
				Str("event", ev.EventID).
				Msg("Event handling failed")
		}
	}
}

// runDue runs one scheduler tick: every due pending task is marked running,
// executed under its timeout, and completed or failed. Recurring tasks are
// rescheduled by the store.
func (d *Daemon) runDue(ctx context.Context) {
	if !d.schedulerEnabled() {
		return
	}
	d.ticks.Add(1)

	for _, t := range d.opts.Tasks.Due(time.Now()) {
		if ctx.Err() != nil {
			return
		}
		if err := d.opts.Tasks.MarkRunning(t.ID); err != nil {
			log.Warn().Err(err).Str("task", t.ID).Msg("Could not claim task")
			continue
		}
		metrics.SchedulerDispatches.Inc()
		d.executions.Add(1)

		runCtx, cancel := context.WithTimeout(ctx, t.Timeout())
		output, err := d.opts.Execute(runCtx, t.Task)
		cancel()

		if err != nil {
			metrics.TaskFailures.Inc()
			log.Warn().Err(err).Str("task", t.ID).Str("input", t.Task).Msg("Task failed")
		} else {
			log.Info().Str("task", t.ID).Int("output_chars", len(output)).Msg("Task completed")
		}
		if cerr := d.opts.Tasks.Complete(t.ID, err); cerr != nil {
			log.Warn().Err(cerr).Str("task", t.ID).Msg("Task completion not recorded")
		}
	}
}

// heartbeat emits the one-line liveness summary with process RSS and CPU.
func (d *Daemon) heartbeat() {
	ev := log.Info().
		Uint64("polls", d.polls.Load()).
		Uint64("events", d.events.Load()).
		Uint64("ticks", d.ticks.Load()).
		Uint64("executions", d.executions.Load()).
		Str("uptime", time.Since(d.started).Round(time.Second).String())
	if d.opts.Tasks != nil {
		ev = ev.Int("pending", d.opts.Tasks.Pending())
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, merr := proc.MemoryInfo(); merr == nil && mem != nil {
			ev = ev.Float64("rss_mb", float64(mem.RSS)/(1<<20))
		}
		if cpu, cerr := proc.CPUPercent(); cerr == nil {
			ev = ev.Float64("cpu_pct", cpu)
		}
	}
	ev.Msg("Heartbeat")
}

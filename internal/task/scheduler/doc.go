// Package scheduler triggers jobs at computed times and hands them to the
// task engine for execution.
//
// Five job kinds exist: At and In fire once, Every repeats on a fixed
// cadence anchored on the previous slot, Interval leaves a fixed gap after
// each run finishes, and Cron follows a cron line. Each job picks its
// schedule policy once, at construction.
//
// A Scheduler owns its job store, mutex registry and worker pool; nothing
// is shared between schedulers in the same process. A single loop ticks at
// Config.Frequency, advances the schedule of every due job before
// dispatching it, and prunes jobs that have nothing left to do.
package scheduler

// Package storage keeps a diagnostic history of job executions.
//
// It is fed from scheduler events and read by the ops endpoint. Schedules
// are never restored from it.
package storage

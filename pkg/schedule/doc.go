// Package schedule provides cadence definitions for recurring sweeps.
//
// This package includes:
//   - Schedule interface for defining run cadences
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Weekly() for weekly schedules on a specific day and time
//   - Cron() for cron expression-based schedules
//
// The engine's liveness janitor consumes these; workflow logic never
// does, since Next reads the wall clock.
package schedule

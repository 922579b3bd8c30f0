// Package cronline parses crontab-style lines and walks them through time.
//
// A line has six fields (second minute hour day month weekday) or the
// classic five (seconds default to 0), optionally followed by an IANA zone:
//
//	"0 0 * * *"                 every midnight, local zone
//	"*/30 * 9-17 * * mon-fri"   every 30s during office hours
//	"0 0 12 -1 * *"             noon on the last day of each month
//	"0 9 * * fri#2,5L"          9am on the second and the last friday
//	"0 30 7 * * * Europe/Paris" 7:30 Paris time
//
// Day-of-month and weekday constraints must both hold. When a line carries
// both plain weekdays and month-relative weekdays (fri#2, 5L), a date matches
// if either of those two sets matches.
//
// Fields match wall-clock time in the line's zone. Across daylight saving
// changes this means a slot inside a repeated hour matches both instants
// (0 30 1 * * * America/New_York fires at 01:30 EDT and again at 01:30 EST
// on 2024-11-03), and a slot inside a skipped hour does not match at all
// that day (0 30 2 * * * America/New_York has no 2024-03-10 occurrence).
package cronline

package scheduler

import "time"

// Trigger computes when a job should fire next. Implementations must return
// a time strictly after the argument.
type Trigger interface {
	Next(after time.Time) time.Time
}

// IntervalTrigger fires on a fixed cadence
type IntervalTrigger struct {
	Every time.Duration
}

func (t IntervalTrigger) Next(after time.Time) time.Time {
	every := t.Every
	if every <= 0 {
		every = time.Minute
	}
	return after.Add(every)
}

// DailyTrigger fires once a day at a fixed UTC hour
type DailyTrigger struct {
	Hour int
}

func (t DailyTrigger) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), t.Hour, 0, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// WeeklyTrigger fires once a week at a fixed UTC weekday and hour
type WeeklyTrigger struct {
	Day  time.Weekday
	Hour int
}

func (t WeeklyTrigger) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), t.Hour, 0, 0, 0, time.UTC)
	days := (int(t.Day) - int(after.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(after) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

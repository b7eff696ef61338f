package models

import "time"

// Event represents one upcoming CTF as listed by CTFtime.
// This is an internal representation with every display field already resolved.
type Event struct {
	ID           int           // CTFtime event ID, 0 if the record had none
	URL          string        // Event site, or its CTFtime page when the site is unknown
	Name         string        // Title of the event
	LogoURL      string        // Absolute URL of the event logo
	Format       string        // Competition format (e.g. "Jeopardy")
	Location     string        // "online" unless the event is on-site
	Start        time.Time     // Start time of the event, in UTC
	Finish       time.Time     // Finish time of the event, in UTC
	Description  string        // Description, at most 2047 characters
	Restrictions string        // Who may participate
	Duration     time.Duration // Span of the event as reported by CTFtime
	Weight       float64       // CTFtime rating weight
	Participants int           // Number of interested teams
}

// End returns the end of the event. It prefers Start+Duration and falls back
// to Finish when no duration was reported.
func (e Event) End() time.Time {
	if e.Duration > 0 {
		return e.Start.Add(e.Duration)
	}
	if e.Finish.After(e.Start) {
		return e.Finish
	}
	return e.Start
}

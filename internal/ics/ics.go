// Package ics renders CTF events as iCalendar data.
package ics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"ctfhooks/internal/models"
)

const productID = "-//ctfhooks//EN"

// UID returns a stable identifier for e, so the same CTF always maps to the
// same calendar object.
func UID(e models.Event) string {
	key := fmt.Sprintf("ctftime:%d", e.ID)
	if e.ID == 0 {
		key = fmt.Sprintf("ctftime:%s@%d", e.Name, e.Start.Unix())
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// EventComponent converts an event to a VEVENT stamped at stamp.
func EventComponent(e models.Event, stamp time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, UID(e))
	ve.Props.SetText(ical.PropSummary, e.Name)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, e.End().UTC())
	ve.Props.SetText(ical.PropDescription, e.Description)
	ve.Props.SetText(ical.PropLocation, e.Location)
	if e.URL != "" {
		p := ical.NewProp(ical.PropURL)
		p.Value = e.URL
		ve.Props.Set(p)
	}
	return ve
}

// Calendar wraps the events in a VCALENDAR.
func Calendar(events []models.Event, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	for _, e := range events {
		cal.Children = append(cal.Children, EventComponent(e, stamp))
	}
	return cal
}

// WriteFile writes events to path as a .ics file, replacing any previous one.
func WriteFile(path string, events []models.Event, stamp time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return models.FileError("create calendar "+path, err)
	}
	defer f.Close()

	if err := ical.NewEncoder(f).Encode(Calendar(events, stamp)); err != nil {
		return models.FormatError("encode calendar", err)
	}
	if err := f.Close(); err != nil {
		return models.FileError("write calendar "+path, err)
	}
	return nil
}

// FileWriter publishes events to a local .ics file.
type FileWriter struct {
	Path string
	Now  func() time.Time
}

func (w *FileWriter) Name() string { return "ics-file" }

// Publish writes the calendar. An empty event list leaves the file alone.
func (w *FileWriter) Publish(_ context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return WriteFile(w.Path, events, now())
}

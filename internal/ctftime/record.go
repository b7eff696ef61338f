package ctftime

import (
	"fmt"
	"strings"
	"time"

	"ctfhooks/internal/models"
)

const (
	// BaseURL is the origin relative logo paths are resolved against.
	BaseURL = "https://ctftime.org"
	// DefaultIcon stands in for events without a logo and is the webhook avatar.
	DefaultIcon = "https://pbs.twimg.com/profile_images/2189766987/ctftime-logo-avatar_400x400.png"

	timeLayout        = "2006-01-02T150405Z0700"
	maxDescriptionLen = 2048
	truncatedLen      = 2044

	unnamed       = "Unnamed"
	unknown       = "Unknown"
	online        = "online"
	noDescription = "No description :shrug:"
)

// Record is one event as returned by the CTFtime events API.
// Every field is optional; nil means the key was absent or null.
type Record struct {
	ID           *int     `json:"id"`
	URL          *string  `json:"url"`
	CTFtimeURL   *string  `json:"ctftime_url"`
	Title        *string  `json:"title"`
	Logo         *string  `json:"logo"`
	Format       *string  `json:"format"`
	Onsite       *bool    `json:"onsite"`
	Location     *string  `json:"location"`
	Start        *string  `json:"start"`
	Finish       *string  `json:"finish"`
	Description  *string  `json:"description"`
	Restrictions *string  `json:"restrictions"`
	Duration     Span     `json:"duration"`
	Weight       *float64 `json:"weight"`
	Participants *int     `json:"participants"`
}

// Span holds the duration components CTFtime reports, e.g. {"days": 2, "hours": 0}.
type Span map[string]float64

var spanUnits = map[string]time.Duration{
	"weeks":        7 * 24 * time.Hour,
	"days":         24 * time.Hour,
	"hours":        time.Hour,
	"minutes":      time.Minute,
	"seconds":      time.Second,
	"milliseconds": time.Millisecond,
	"microseconds": time.Microsecond,
}

// Duration adds up the known components. Unknown keys are ignored and an
// empty span is zero.
func (s Span) Duration() time.Duration {
	var total time.Duration
	for k, v := range s {
		unit, ok := spanUnits[k]
		if !ok {
			continue
		}
		total += time.Duration(v * float64(unit))
	}
	return total.Round(time.Microsecond)
}

// Event resolves the record into a display-ready Event. It only fails when a
// timestamp is present but malformed.
func (r Record) Event() (models.Event, error) {
	start, err := ParseTime(deref(r.Start))
	if err != nil {
		return models.Event{}, err
	}
	finish, err := ParseTime(deref(r.Finish))
	if err != nil {
		return models.Event{}, err
	}

	e := models.Event{
		URL:          resolveURL(r.URL, r.CTFtimeURL),
		Name:         orDefault(r.Title, unnamed),
		LogoURL:      ResolveLogo(deref(r.Logo)),
		Format:       orDefault(r.Format, unknown),
		Location:     resolveLocation(r.Onsite, r.Location),
		Start:        start,
		Finish:       finish,
		Description:  resolveDescription(r.Description),
		Restrictions: orDefault(r.Restrictions, unknown),
		Duration:     r.Duration.Duration(),
	}
	if r.ID != nil {
		e.ID = *r.ID
	}
	if r.Weight != nil {
		e.Weight = *r.Weight
	}
	if r.Participants != nil {
		e.Participants = *r.Participants
	}
	return e, nil
}

// ParseTime parses a CTFtime timestamp such as "2023-01-01T12:00:00+00:00".
// Colons are stripped first; the empty string is the Unix epoch.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(timeLayout, strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return time.Time{}, models.FormatError(fmt.Sprintf("parse time %q", s), err)
	}
	return t.UTC(), nil
}

// ResolveLogo turns a logo path into an absolute URL.
func ResolveLogo(logo string) string {
	switch {
	case logo == "":
		return DefaultIcon
	case strings.HasPrefix(logo, "/"):
		return BaseURL + logo
	default:
		return logo
	}
}

func resolveURL(primary, secondary *string) string {
	if u := deref(primary); u != "" {
		return u
	}
	return deref(secondary)
}

func resolveLocation(onsite *bool, location *string) string {
	if onsite == nil || !*onsite {
		return online
	}
	return orDefault(location, unknown)
}

func resolveDescription(desc *string) string {
	d := orDefault(desc, noDescription)
	runes := []rune(d)
	if len(runes) > maxDescriptionLen {
		return string(runes[:truncatedLen]) + "..."
	}
	return d
}

func orDefault(s *string, def string) string {
	if v := deref(s); v != "" {
		return v
	}
	return def
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

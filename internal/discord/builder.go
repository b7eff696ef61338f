package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ctfhooks/internal/ctftime"
	"ctfhooks/internal/models"
)

const (
	// Username is the sender label shown on every message.
	Username = "CTFtime"
	// EmbedColor is the CTFtime red.
	EmbedColor = 0xFF0035
)

// BuildHook assembles the single message announcing events found within the
// next days days. With weightFields set, each card also carries the event
// weight and the number of interested teams.
func BuildHook(events []models.Event, days int, weightFields bool) *Hook {
	embeds := make([]Embed, 0, len(events))
	for _, e := range events {
		embeds = append(embeds, EventEmbed(e, weightFields))
	}
	return &Hook{
		Username:  Username,
		Content:   fmt.Sprintf("There are %d CTFs during the upcoming %d days", len(embeds), days),
		Embeds:    embeds,
		AvatarURL: ctftime.DefaultIcon,
	}
}

// EventEmbed renders one event as a card.
func EventEmbed(e models.Event, weightFields bool) Embed {
	embed := Embed{
		Title:       e.Name,
		Description: e.Description,
		URL:         e.URL,
		Color:       EmbedColor,
		Timestamp:   e.Start.UTC().Format(time.RFC3339),
		Thumbnail:   &Thumbnail{URL: e.LogoURL},
		Footer: &Footer{
			Text: fmt.Sprintf(" ⏳ %s | 📌 %s | ⛳ %s | 👮 %s",
				FormatDuration(e.Duration), e.Location, e.Format, e.Restrictions),
		},
	}
	if weightFields {
		embed.Fields = []Field{
			{Name: "Weight", Value: formatWeight(e.Weight)},
			{Name: "Interested teams", Value: strconv.Itoa(e.Participants)},
		}
	}
	return embed
}

// FormatDuration renders d the way CTF announcements have always shown it:
// "8:00:00", "1 day, 12:00:00", "2 days, 0:00:00".
func FormatDuration(d time.Duration) string {
	const usPerDay = 24 * 60 * 60 * 1e6

	us := d.Microseconds()
	days := us / usPerDay
	if us%usPerDay < 0 {
		days--
	}
	rem := us - days*usPerDay
	secs, micros := rem/1e6, rem%1e6

	var b strings.Builder
	if days != 0 {
		unit := "days"
		if days == 1 || days == -1 {
			unit = "day"
		}
		fmt.Fprintf(&b, "%d %s, ", days, unit)
	}
	fmt.Fprintf(&b, "%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	if micros != 0 {
		fmt.Fprintf(&b, ".%06d", micros)
	}
	return b.String()
}

// formatWeight always shows a decimal point, so 25 reads "25.0".
func formatWeight(w float64) string {
	s := strconv.FormatFloat(w, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

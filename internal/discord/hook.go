// Package discord builds Discord webhook messages for CTF events and delivers them.
package discord

import "unicode/utf8"

// MaxEmbedChars is Discord's limit on the combined text of all embeds in one
// message. Larger messages are rejected with 400 Bad Request.
const MaxEmbedChars = 6000

// Hook is the body of a webhook execution.
// https://discord.com/developers/docs/resources/webhook#execute-webhook
type Hook struct {
	Username  string  `json:"username,omitempty"`
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
}

// Embed is a rich content card, one per event.
type Embed struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	Color       int        `json:"color,omitempty"`
	Timestamp   string     `json:"timestamp,omitempty"` // ISO8601
	Thumbnail   *Thumbnail `json:"thumbnail,omitempty"`
	Footer      *Footer    `json:"footer,omitempty"`
	Fields      []Field    `json:"fields,omitempty"`
}

type Thumbnail struct {
	URL string `json:"url"`
}

type Footer struct {
	Text string `json:"text"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedChars counts the characters Discord holds against MaxEmbedChars:
// titles, descriptions, field names and values, and footers.
func (h *Hook) EmbedChars() int {
	n := 0
	for _, e := range h.Embeds {
		n += utf8.RuneCountInString(e.Title) + utf8.RuneCountInString(e.Description)
		for _, f := range e.Fields {
			n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
		}
		if e.Footer != nil {
			n += utf8.RuneCountInString(e.Footer.Text)
		}
	}
	return n
}

// Package transcript renders a ticket channel's history to a standalone HTML page
// and stores it.
package transcript

import "time"

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Embed keeps the readable parts of a rich message.
type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      string  `json:"footer,omitempty"`
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Entry is one message as shown in the transcript.
type Entry struct {
	ID           string       `json:"id"`
	AuthorID     string       `json:"author_id"`
	AuthorName   string       `json:"author_name"`
	AuthorAvatar string       `json:"author_avatar,omitempty"`
	Bot          bool         `json:"bot,omitempty"`
	Content      string       `json:"content"`
	Embeds       []Embed      `json:"embeds,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	At           time.Time    `json:"at"`
}

// Document is a rendered-to-be transcript.
type Document struct {
	Title       string    `json:"title"`
	ChannelName string    `json:"channel_name"`
	TicketID    string    `json:"ticket_id"`
	Type        string    `json:"type"`
	RequesterID string    `json:"user_id"`
	CloseUserID string    `json:"close_user_id"`
	CloseReason string    `json:"close_reason,omitempty"`
	Generated   time.Time `json:"generated"`
	Entries     []Entry   `json:"messages"`
}

package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// Ticket is stored under tickets.{RequesterID}.{Number}.
type Ticket struct {
	Number      string       `json:"ticketId"`
	Type        string       `json:"type"`
	RequesterID string       `json:"userId"`
	Server      string       `json:"server,omitempty"`
	Status      TicketStatus `json:"status"`
	Responses   string       `json:"responses"`
	CreatedAt   time.Time    `json:"createdAt"`

	ChannelID    string `json:"channelId,omitempty"`
	SummaryMsgID string `json:"summaryMsgId,omitempty"`
	ThreadID     string `json:"threadId,omitempty"`

	CloseTime     *time.Time `json:"closeTime,omitempty"`
	CloseUser     string     `json:"closeUser,omitempty"`
	CloseReason   string     `json:"closeReason,omitempty"`
	TranscriptRef string     `json:"transcriptRef,omitempty"`
}

// Closed reports whether the ticket reached its terminal state.
func (t *Ticket) Closed() bool { return t.Status == TicketStatusClosed }

// Claim is stored under claims.{channelId}.
type Claim struct {
	UserID     string    `json:"userId"`
	At         time.Time `json:"at"`
	TicketType string    `json:"ticketType"`
	TicketID   string    `json:"ticketId"`
}

// RelayShape records how a source message was mirrored. Edit replay differs per shape.
type RelayShape string

const (
	ShapeCombined RelayShape = "combined"
	ShapeFiles    RelayShape = "files"
	ShapeChunks   RelayShape = "chunks"
)

// Mirror lists the messages a source message was copied to on the other surface.
type Mirror struct {
	Shape         RelayShape `json:"shape"`
	CombinedMsgID string     `json:"combinedMsgId,omitempty"`
	FilesMsgID    string     `json:"filesMsgId,omitempty"`
	TextMsgIDs    []string   `json:"textMsgIds"`
}

// HasText reports whether the mirror carries any text component.
func (m *Mirror) HasText() bool {
	return m.CombinedMsgID != "" || len(m.TextMsgIDs) > 0
}

// MessageIDs returns every mirrored message id, files first.
func (m *Mirror) MessageIDs() []string {
	var ids []string
	for _, id := range []string{m.FilesMsgID, m.CombinedMsgID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return append(ids, m.TextMsgIDs...)
}

// DMToStaff is stored under relayMap.dmToStaff.{sourceMsgId}.
type DMToStaff struct {
	ChannelID string `json:"channelId"`
	Mirror
}

// StaffToDM is stored under relayMap.staffToDm.{sourceMsgId}.
type StaffToDM struct {
	DMChannelID string `json:"dmChannelId"`
	Mirror
	AuthorID  string `json:"authorId"`
	Anonymous bool   `json:"anonymous"`
}

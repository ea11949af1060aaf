// Package platform describes the chat-platform surface the ticket engine drives.
// Adapters (see internal/discord) implement Client; the engine never imports a
// platform SDK directly.
package platform

import (
	"context"
	"time"
)

type MessageKind int

const (
	KindDefault MessageKind = iota
	KindThreadCreated
	KindSystem
)

type Attachment struct {
	ID       string
	Filename string
	URL      string
	Size     int
}

type Message struct {
	ID           string
	ChannelID    string
	GuildID      string
	AuthorID     string
	AuthorName   string
	AuthorAvatar string
	AuthorBot    bool
	WebhookID    string
	Content      string
	Attachments  []Attachment
	Embeds       []Embed
	Kind         MessageKind
	CreatedAt    time.Time
}

// Direct reports whether the message was sent in a private conversation.
func (m Message) Direct() bool { return m.GuildID == "" }

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
}

type SelectOption struct {
	Label string
	Value string
}

type Select struct {
	CustomID    string
	Placeholder string
	Options     []SelectOption
}

// File is an outgoing upload. The adapter fetches URL when Data is nil.
type File struct {
	Name string
	URL  string
	Data []byte
}

type Outgoing struct {
	Content string
	Embeds  []Embed
	Files   []File
	Buttons []Button
	Select  *Select
}

// Identity is the name and avatar a spoofed send is attributed to.
type Identity struct {
	Name      string
	AvatarURL string
}

type OverwriteKind int

const (
	OverwriteRole OverwriteKind = iota
	OverwriteMember
)

type Permission int64

const (
	PermView Permission = 1 << iota
	PermSend
	PermHistory
	PermAttach
)

const PermReply = PermView | PermSend | PermHistory | PermAttach

type Overwrite struct {
	ID    string
	Kind  OverwriteKind
	Allow Permission
	Deny  Permission
}

type ChannelSpec struct {
	Name       string
	Topic      string
	ParentID   string
	Overwrites []Overwrite
}

type Channel struct {
	ID       string
	GuildID  string
	Name     string
	Topic    string
	ParentID string
}

type User struct {
	ID        string
	Name      string
	AvatarURL string
	Bot       bool
}

type InteractionKind int

const (
	InteractionCommand InteractionKind = iota
	InteractionComponent
	InteractionModalSubmit
)

type Interaction struct {
	Kind      InteractionKind
	Name      string // command name or component/modal custom id
	Values    []string
	Options   map[string]string
	UserID    string
	Roles     []string
	ChannelID string
	GuildID   string
	// Raw is the adapter's native interaction, needed to respond.
	Raw any
}

// Command declares a slash command the adapter registers on startup.
type Command struct {
	Name        string
	Description string
	Options     []CommandOption
}

type CommandOption struct {
	Name        string
	Description string
	Required    bool
	Choices     []SelectOption
}

type Modal struct {
	CustomID string
	Title    string
	FieldID  string
	Label    string
}

type Response struct {
	Content   string
	Ephemeral bool
	Select    *Select
	Modal     *Modal
	// Deferred acknowledges without content; used before long-running work.
	Deferred bool
}

// Client is the set of platform calls the ticket engine issues.
// Adapters wrap native errors with errs.ErrDeliveryRefused, errs.ErrForbidden or errs.ErrGone
// where they apply.
type Client interface {
	BotID() string

	CreateChannel(ctx context.Context, spec ChannelSpec) (Channel, error)
	Channel(ctx context.Context, channelID string) (Channel, error)
	// FindChannelByTopic returns the guild text channel whose topic equals topic.
	FindChannelByTopic(ctx context.Context, topic string) (Channel, bool, error)
	RenameChannel(ctx context.Context, channelID, name string) error
	MoveChannel(ctx context.Context, channelID, parentID string) error
	SetOverwrites(ctx context.Context, channelID string, overwrites []Overwrite) error
	SetOverwrite(ctx context.Context, channelID string, overwrite Overwrite) error
	DeleteOverwrite(ctx context.Context, channelID, targetID string) error
	DeleteChannel(ctx context.Context, channelID string) error

	Send(ctx context.Context, channelID string, msg Outgoing) (Message, error)
	// SendAs posts through a channel-bound mechanism that shows as, not the bot.
	SendAs(ctx context.Context, channelID string, as Identity, msg Outgoing) (Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg Outgoing) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	Pin(ctx context.Context, channelID, messageID string) error
	Pinned(ctx context.Context, channelID string) ([]Message, error)
	// History returns the channel's messages oldest first.
	History(ctx context.Context, channelID string) ([]Message, error)

	// DirectChannel opens (or returns) the private conversation with userID.
	DirectChannel(ctx context.Context, userID string) (string, error)

	CreateThread(ctx context.Context, parentID, name string) (Channel, error)
	MakeThreadPrivate(ctx context.Context, threadID string) error
	ArchiveThread(ctx context.Context, threadID string) error

	User(ctx context.Context, userID string) (User, error)
	MemberRoles(ctx context.Context, userID string) ([]string, error)

	Respond(ctx context.Context, in Interaction, resp Response) error
	// FollowUp sends another message for an interaction that was already answered.
	// Only Content and Ephemeral are used.
	FollowUp(ctx context.Context, in Interaction, resp Response) error
}

func MentionUser(id string) string { return "<@" + id + ">" }

func MentionRole(id string) string { return "<@&" + id + ">" }

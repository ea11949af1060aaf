// Package discord implements platform.Client on top of discordgo and turns gateway
// events into calls on the bot dispatcher.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/platform"
)

const (
	webhookName     = "Ticket Relay"
	historyPageSize = 100
	downloadTimeout = 30 * time.Second
)

// Client drives one guild through a discordgo session.
type Client struct {
	s       *discordgo.Session
	guildID string
	http    *http.Client

	mu       sync.Mutex
	webhooks map[string]*discordgo.Webhook
}

func NewClient(s *discordgo.Session, guildID string) *Client {
	return &Client{
		s:        s,
		guildID:  guildID,
		http:     &http.Client{Timeout: downloadTimeout},
		webhooks: make(map[string]*discordgo.Webhook),
	}
}

func (c *Client) BotID() string {
	if c.s.State == nil || c.s.State.User == nil {
		return ""
	}
	return c.s.State.User.ID
}

func (c *Client) CreateChannel(ctx context.Context, spec platform.ChannelSpec) (platform.Channel, error) {
	ch, err := c.s.GuildChannelCreateComplex(c.guildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             spec.ParentID,
		PermissionOverwrites: toOverwrites(spec.Overwrites),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Channel{}, mapError("create channel "+spec.Name, err)
	}
	return toChannel(ch), nil
}

func (c *Client) Channel(ctx context.Context, channelID string) (platform.Channel, error) {
	ch, err := c.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Channel{}, mapError("channel "+channelID, err)
	}
	return toChannel(ch), nil
}

func (c *Client) FindChannelByTopic(ctx context.Context, topic string) (platform.Channel, bool, error) {
	chs, err := c.s.GuildChannels(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Channel{}, false, mapError("guild channels", err)
	}
	for _, ch := range chs {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Topic == topic {
			return toChannel(ch), true, nil
		}
	}
	return platform.Channel{}, false, nil
}

func (c *Client) edit(ctx context.Context, op, channelID string, data *discordgo.ChannelEdit) error {
	_, err := c.s.ChannelEdit(channelID, data, discordgo.WithContext(ctx))
	return mapError(op+" "+channelID, err)
}

func (c *Client) RenameChannel(ctx context.Context, channelID, name string) error {
	return c.edit(ctx, "rename", channelID, &discordgo.ChannelEdit{Name: name})
}

func (c *Client) MoveChannel(ctx context.Context, channelID, parentID string) error {
	return c.edit(ctx, "move", channelID, &discordgo.ChannelEdit{ParentID: parentID})
}

// SetOverwrites replaces the channel's overwrites. Threads have none of their own and
// follow their parent, so the call is a no-op for them.
func (c *Client) SetOverwrites(ctx context.Context, channelID string, ows []platform.Overwrite) error {
	ch, err := c.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError("overwrites "+channelID, err)
	}
	if ch.IsThread() {
		return nil
	}
	return c.edit(ctx, "overwrites", channelID, &discordgo.ChannelEdit{PermissionOverwrites: toOverwrites(ows)})
}

func (c *Client) SetOverwrite(ctx context.Context, channelID string, o platform.Overwrite) error {
	d := toOverwrite(o)
	err := c.s.ChannelPermissionSet(channelID, d.ID, d.Type, d.Allow, d.Deny, discordgo.WithContext(ctx))
	return mapError("overwrite "+channelID, err)
}

func (c *Client) DeleteOverwrite(ctx context.Context, channelID, targetID string) error {
	return mapError("delete overwrite "+channelID, c.s.ChannelPermissionDelete(channelID, targetID, discordgo.WithContext(ctx)))
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := c.s.ChannelDelete(channelID, discordgo.WithContext(ctx))
	c.mu.Lock()
	delete(c.webhooks, channelID)
	c.mu.Unlock()
	return mapError("delete channel "+channelID, err)
}

func (c *Client) Send(ctx context.Context, channelID string, out platform.Outgoing) (platform.Message, error) {
	files, err := c.files(ctx, out.Files)
	if err != nil {
		return platform.Message{}, err
	}
	m, err := c.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         out.Content,
		Embeds:          fromEmbeds(out.Embeds),
		Components:      components(out.Buttons, out.Select),
		Files:           files,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers, discordgo.AllowedMentionTypeRoles}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, mapError("send to "+channelID, err)
	}
	return toMessage(m), nil
}

// SendAs posts through a webhook owned by the bot in channelID, created on first use.
func (c *Client) SendAs(ctx context.Context, channelID string, as platform.Identity, out platform.Outgoing) (platform.Message, error) {
	wh, err := c.webhook(ctx, channelID)
	if err != nil {
		return platform.Message{}, err
	}
	files, err := c.files(ctx, out.Files)
	if err != nil {
		return platform.Message{}, err
	}
	m, err := c.s.WebhookExecute(wh.ID, wh.Token, true, &discordgo.WebhookParams{
		Content:         out.Content,
		Username:        as.Name,
		AvatarURL:       as.AvatarURL,
		Embeds:          fromEmbeds(out.Embeds),
		Files:           files,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, mapError("webhook send to "+channelID, err)
	}
	return toMessage(m), nil
}

func (c *Client) webhook(ctx context.Context, channelID string) (*discordgo.Webhook, error) {
	c.mu.Lock()
	wh, ok := c.webhooks[channelID]
	c.mu.Unlock()
	if ok {
		return wh, nil
	}
	hooks, err := c.s.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("webhooks of "+channelID, err)
	}
	for _, h := range hooks {
		if h.Name == webhookName && h.Token != "" {
			wh = h
			break
		}
	}
	if wh == nil {
		if wh, err = c.s.WebhookCreate(channelID, webhookName, "", discordgo.WithContext(ctx)); err != nil {
			return nil, mapError("create webhook in "+channelID, err)
		}
	}
	c.mu.Lock()
	c.webhooks[channelID] = wh
	c.mu.Unlock()
	return wh, nil
}

// EditMessage edits a bot message, or one the relay webhook posted.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, out platform.Outgoing) error {
	m, err := c.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError("fetch message "+messageID, err)
	}
	content := out.Content
	var embeds *[]*discordgo.MessageEmbed
	if out.Embeds != nil {
		e := fromEmbeds(out.Embeds)
		embeds = &e
	}
	if m.WebhookID != "" {
		wh, err := c.webhook(ctx, channelID)
		if err != nil {
			return err
		}
		if wh.ID != m.WebhookID {
			return fmt.Errorf("edit %s: posted by a foreign webhook", messageID)
		}
		_, err = c.s.WebhookMessageEdit(wh.ID, wh.Token, messageID, &discordgo.WebhookEdit{Content: &content, Embeds: embeds}, discordgo.WithContext(ctx))
		return mapError("webhook edit "+messageID, err)
	}
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content)
	edit.Embeds = embeds
	_, err = c.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return mapError("edit "+messageID, err)
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapError("delete "+messageID, c.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (c *Client) Pin(ctx context.Context, channelID, messageID string) error {
	return mapError("pin "+messageID, c.s.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)))
}

func (c *Client) Pinned(ctx context.Context, channelID string) ([]platform.Message, error) {
	ms, err := c.s.ChannelMessagesPinned(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("pins of "+channelID, err)
	}
	out := make([]platform.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// History pages backwards through the channel and returns it oldest first.
func (c *Client) History(ctx context.Context, channelID string) ([]platform.Message, error) {
	var out []platform.Message
	before := ""
	for {
		page, err := c.s.ChannelMessages(channelID, historyPageSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError("history of "+channelID, err)
		}
		for _, m := range page {
			out = append(out, toMessage(m))
		}
		if len(page) < historyPageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *Client) DirectChannel(ctx context.Context, userID string) (string, error) {
	ch, err := c.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("dm with "+userID, err)
	}
	return ch.ID, nil
}

// CreateThread opens a public thread. Public threads inherit the parent's view
// permissions, so a thread in a ticket channel is visible to exactly the roles the
// channel's overwrites admit.
func (c *Client) CreateThread(ctx context.Context, parentID, name string) (platform.Channel, error) {
	th, err := c.s.ThreadStartComplex(parentID, &discordgo.ThreadStart{
		Name:                name,
		Type:                discordgo.ChannelTypeGuildPublicThread,
		AutoArchiveDuration: 10080,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Channel{}, mapError("thread in "+parentID, err)
	}
	return toChannel(th), nil
}

// MakeThreadPrivate confirms the thread is scoped: Discord cannot convert a public
// thread, so the thread is private only while its parent channel hides @everyone.
func (c *Client) MakeThreadPrivate(ctx context.Context, threadID string) error {
	th, err := c.s.Channel(threadID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError("thread "+threadID, err)
	}
	parent, err := c.s.Channel(th.ParentID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError("thread parent "+th.ParentID, err)
	}
	if !hidesFromEveryone(parent, c.guildID) {
		return fmt.Errorf("thread %s: parent %s is visible to everyone: %w", threadID, parent.ID, errs.ErrForbidden)
	}
	return nil
}

func (c *Client) ArchiveThread(ctx context.Context, threadID string) error {
	yes := true
	return c.edit(ctx, "archive", threadID, &discordgo.ChannelEdit{Archived: &yes, Locked: &yes})
}

func (c *Client) User(ctx context.Context, userID string) (platform.User, error) {
	u, err := c.s.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.User{}, mapError("user "+userID, err)
	}
	return toUser(u), nil
}

func (c *Client) MemberRoles(ctx context.Context, userID string) ([]string, error) {
	m, err := c.s.GuildMember(c.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("member "+userID, err)
	}
	return m.Roles, nil
}

func (c *Client) Respond(ctx context.Context, in platform.Interaction, resp platform.Response) error {
	i, ok := in.Raw.(*discordgo.Interaction)
	if !ok {
		return fmt.Errorf("respond to %s: not a discord interaction", in.Name)
	}
	return mapError("respond to "+in.Name, c.s.InteractionRespond(i, toResponse(i, resp), discordgo.WithContext(ctx)))
}

func (c *Client) FollowUp(ctx context.Context, in platform.Interaction, resp platform.Response) error {
	i, ok := in.Raw.(*discordgo.Interaction)
	if !ok {
		return fmt.Errorf("follow up %s: not a discord interaction", in.Name)
	}
	params := &discordgo.WebhookParams{Content: resp.Content}
	if resp.Ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err := c.s.FollowupMessageCreate(i, false, params, discordgo.WithContext(ctx))
	return mapError("follow up "+in.Name, err)
}

// files resolves outgoing uploads, downloading those given by URL.
func (c *Client) files(ctx context.Context, in []platform.File) ([]*discordgo.File, error) {
	out := make([]*discordgo.File, 0, len(in))
	for _, f := range in {
		data := f.Data
		if data == nil {
			var err error
			if data, err = c.download(ctx, f.URL); err != nil {
				return nil, fmt.Errorf("attachment %s: %w", f.Name, err)
			}
		}
		out = append(out, &discordgo.File{Name: f.Name, Reader: bytes.NewReader(data)})
	}
	return out, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

var _ platform.Client = (*Client)(nil)

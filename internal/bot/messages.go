package bot

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/kafka"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/relay"
	"github.com/psds-microservice/support-bot/internal/ticket"
)

const pickerPrompt = "You do not have an open ticket. Pick a ticket type to open one:"

// HandleMessage routes a new message. Private messages either answer a running intake,
// reach the requester's ticket, or get the ticket type picker. Messages in ticket
// channels are relayed to the requester.
func (b *Bot) HandleMessage(ctx context.Context, msg platform.Message) {
	if b.ignored(msg) {
		return
	}
	if msg.Direct() {
		b.fromRequester(ctx, msg)
		return
	}
	b.fromStaff(ctx, msg)
}

func (b *Bot) ignored(msg platform.Message) bool {
	return msg.AuthorBot || msg.WebhookID != "" || msg.AuthorID == b.client.BotID() || msg.Kind != platform.KindDefault
}

func (b *Bot) fromRequester(ctx context.Context, msg platform.Message) {
	if b.collector.Offer(msg) || b.sessions.Active(msg.AuthorID) {
		return
	}
	err := b.relay.FromRequester(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrTicketNotFound):
		out := platform.Outgoing{Content: pickerPrompt, Select: b.intake.TypeSelect()}
		if _, err := b.client.Send(ctx, msg.ChannelID, out); err != nil {
			log.Printf("bot: type picker for %s: %v", msg.AuthorID, err)
		}
	default:
		b.report(ctx, "relay from requester", msg.ChannelID, err)
	}
}

func (b *Bot) fromStaff(ctx context.Context, msg platform.Message) {
	ch, ok := b.ticketChannel(ctx, msg.ChannelID)
	if !ok || relay.IsNote(msg.Content) {
		return
	}
	roles, err := b.client.MemberRoles(ctx, msg.AuthorID)
	if err != nil {
		b.report(ctx, "member roles", "", err)
	}
	allowed, held, err := b.claims.CanReply(ctx, ch.ID, msg.AuthorID, roles)
	if err != nil {
		b.report(ctx, "claim check", ch.ID, err)
		return
	}
	if !allowed {
		notice := fmt.Sprintf("%s%s this ticket is claimed by %s, so your message was not sent to the requester.",
			ticket.WarningPrefix, platform.MentionUser(msg.AuthorID), platform.MentionUser(held.UserID))
		if _, err := b.client.Send(ctx, ch.ID, platform.Outgoing{Content: notice}); err != nil {
			log.Printf("bot: claim notice in %s: %v", ch.Name, err)
		}
		return
	}
	if err := b.relay.FromStaff(ctx, ch, msg); err != nil {
		b.report(ctx, "relay to requester", ch.ID, err)
		return
	}

	anonymous, _ := relay.ParseReplyMode(msg.Content, b.defaultAnonymous(ch))
	payload := map[string]interface{}{
		"action":       "reply",
		"channel_id":   ch.ID,
		"requester_id": ch.Topic,
		"actor_id":     msg.AuthorID,
		"anonymous":    anonymous,
	}
	if tt, ok := b.types.ByCategory(ch.ParentID); ok {
		payload["type"] = tt.Name
	}
	b.emit(kafka.EventTicketStaffAction, payload)
}

// ticketChannel resolves channelID to a ticket channel: a guild channel under a
// ticket-type category whose topic names the requester.
func (b *Bot) ticketChannel(ctx context.Context, channelID string) (platform.Channel, bool) {
	ch, err := b.client.Channel(ctx, channelID)
	if err != nil {
		if !errors.Is(err, errs.ErrGone) {
			log.Printf("bot: channel %s: %v", channelID, err)
		}
		return platform.Channel{}, false
	}
	if ch.Topic == "" {
		return ch, false
	}
	_, ok := b.types.ByCategory(ch.ParentID)
	return ch, ok
}

func (b *Bot) defaultAnonymous(ch platform.Channel) bool {
	if tt, ok := b.types.ByCategory(ch.ParentID); ok {
		return tt.Anonymous()
	}
	return true
}

// HandleMessageEdit replays an edit onto the mirrored copies.
func (b *Bot) HandleMessageEdit(ctx context.Context, msg platform.Message) {
	if b.ignored(msg) {
		return
	}
	if err := b.relay.Edited(ctx, msg); err != nil {
		b.report(ctx, "relay edit", "", err)
	}
}

// HandleMessageDelete removes the mirrored copies of a deleted message.
func (b *Bot) HandleMessageDelete(ctx context.Context, channelID, messageID string) {
	if err := b.relay.Deleted(ctx, messageID); err != nil {
		b.report(ctx, "relay delete in "+channelID, "", err)
	}
}

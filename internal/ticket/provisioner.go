package ticket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/store"
)

// Component ids on the pinned summary.
const (
	ButtonClose = "ticket:close"
	ButtonClaim = "ticket:claim"
	ButtonMove  = "ticket:move"
)

// WarningPrefix marks bot notices about degraded state. Transcripts for the requester skip them.
const WarningPrefix = "⚠️ "

// HowToReplyNotice is posted once in every new ticket channel.
const HowToReplyNotice = "Messages you send in this channel are relayed to the requester. " +
	"Start a message with `//` to keep it internal, `!self ` to reply as yourself or `!anon ` to reply anonymously."

const (
	summaryColor   = 0x5865F2
	maxFieldName   = 256
	maxFieldValue  = 1024
	staffThreadFmt = "staff-%s"
)

// Answer is one question and the requester's reply from intake.
type Answer struct {
	Question string
	Answer   string
}

// Provisioner creates and restructures ticket channels.
type Provisioner struct {
	client      platform.Client
	types       *config.TicketTypes
	registry    *Registry
	kv          store.KV
	everyoneID  string
	adminRoleID string
}

// NewProvisioner builds a provisioner. everyoneID is the guild's default role,
// which receives the deny-all overwrite.
func NewProvisioner(client platform.Client, types *config.TicketTypes, registry *Registry, kv store.KV, everyoneID, adminRoleID string) *Provisioner {
	return &Provisioner{
		client:      client,
		types:       types,
		registry:    registry,
		kv:          kv,
		everyoneID:  everyoneID,
		adminRoleID: adminRoleID,
	}
}

// Overwrites computes the permission set of a ticket channel of type tt:
// deny-all default, then allow the bot, the admin role and each access role.
func (p *Provisioner) Overwrites(tt *config.TicketType) []platform.Overwrite {
	ows := []platform.Overwrite{
		{ID: p.everyoneID, Kind: platform.OverwriteRole, Deny: platform.PermView},
		{ID: p.client.BotID(), Kind: platform.OverwriteMember, Allow: platform.PermReply},
	}
	if p.adminRoleID != "" {
		ows = append(ows, platform.Overwrite{ID: p.adminRoleID, Kind: platform.OverwriteRole, Allow: platform.PermReply})
	}
	for _, r := range tt.AccessRoles() {
		if r == p.adminRoleID {
			continue
		}
		ows = append(ows, platform.Overwrite{ID: r, Kind: platform.OverwriteRole, Allow: platform.PermReply})
	}
	return ows
}

// ApplyClaim adjusts a channel's overwrites for an active claim: the claimant gets
// explicit reply rights and, when the type restricts replies, every non-bypass
// access role loses send.
func ApplyClaim(ows []platform.Overwrite, tt *config.TicketType, claimantID string) []platform.Overwrite {
	out := make([]platform.Overwrite, 0, len(ows)+1)
	for _, o := range ows {
		if tt.RestrictRepliesToClaimant && o.Kind == platform.OverwriteRole && containsRole(tt.Access, o.ID) && !tt.IsBypass(o.ID) {
			o.Allow &^= platform.PermSend
			o.Deny |= platform.PermSend
		}
		out = append(out, o)
	}
	return append(out, platform.Overwrite{ID: claimantID, Kind: platform.OverwriteMember, Allow: platform.PermReply})
}

func containsRole(roles []string, id string) bool {
	for _, r := range roles {
		if r == id {
			return true
		}
	}
	return false
}

// Opened describes a provisioned ticket channel. Warnings list the structural steps
// that failed; the channel is usable regardless.
type Opened struct {
	Ticket    *model.Ticket
	Channel   platform.Channel
	SummaryID string
	ThreadID  string
	Warnings  []string
}

// Open creates the ticket channel for t, posts and pins the summary, and creates the
// staff thread when the type asks for one. Only a failure to create the channel
// itself is returned as an error.
func (p *Provisioner) Open(ctx context.Context, t *model.Ticket, answers []Answer) (*Opened, error) {
	tt, ok := p.types.Lookup(t.Type)
	if !ok {
		return nil, fmt.Errorf("open ticket %s: %q: %w", t.Number, t.Type, errs.ErrUnknownTicketType)
	}
	ch, err := p.client.CreateChannel(ctx, platform.ChannelSpec{
		Name:     ChannelName(t.Server, tt.Name, t.Number),
		Topic:    t.RequesterID,
		ParentID: tt.CategoryID,
	})
	if err != nil {
		return nil, fmt.Errorf("open ticket %s: create channel: %w", t.Number, err)
	}
	res := &Opened{Ticket: t, Channel: ch}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Printf("ticket: %s: %s", ch.Name, msg)
		res.Warnings = append(res.Warnings, msg)
	}

	if err := p.client.SetOverwrites(ctx, ch.ID, p.Overwrites(tt)); err != nil {
		warn("could not apply channel permissions: %v", err)
	}

	h := Handle{RequesterID: t.RequesterID, Number: t.Number, Type: tt.Name}
	summary, err := p.client.Send(ctx, ch.ID, platform.Outgoing{
		Content: summaryContent(t.RequesterID, tt.PingRoles()),
		Embeds:  []platform.Embed{SummaryEmbed(h, t, answers)},
		Buttons: SummaryButtons(),
	})
	if err != nil {
		warn("could not post the ticket summary: %v", err)
	} else {
		res.SummaryID = summary.ID
		if err := p.client.Pin(ctx, ch.ID, summary.ID); err != nil {
			warn("could not pin the ticket summary: %v", err)
		}
	}
	if _, err := p.client.Send(ctx, ch.ID, platform.Outgoing{Content: HowToReplyNotice}); err != nil {
		log.Printf("ticket: %s: how-to-reply notice: %v", ch.Name, err)
	}

	if tt.StaffThread {
		threadID, err := p.openStaffThread(ctx, ch.ID, t.Number, tt)
		if err != nil {
			warn("staff thread: %v", err)
		}
		res.ThreadID = threadID
	}

	if _, err := p.registry.Update(ctx, t.RequesterID, t.Number, func(rec *model.Ticket) {
		rec.ChannelID = ch.ID
		rec.SummaryMsgID = res.SummaryID
		rec.ThreadID = res.ThreadID
	}); err != nil {
		warn("could not record channel on ticket: %v", err)
	} else {
		t.ChannelID, t.SummaryMsgID, t.ThreadID = ch.ID, res.SummaryID, res.ThreadID
	}

	p.postWarnings(ctx, ch.ID, res.Warnings)
	return res, nil
}

// openStaffThread creates the thread public, attaches the access-role overwrites and
// only then makes it private. If the overwrites fail the thread stays public so
// staff keep access.
func (p *Provisioner) openStaffThread(ctx context.Context, channelID, number string, tt *config.TicketType) (string, error) {
	th, err := p.client.CreateThread(ctx, channelID, fmt.Sprintf(staffThreadFmt, number))
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if err := p.client.SetOverwrites(ctx, th.ID, p.Overwrites(tt)); err != nil {
		return th.ID, fmt.Errorf("left public, overwrites failed: %w", err)
	}
	if err := p.client.MakeThreadPrivate(ctx, th.ID); err != nil {
		return th.ID, fmt.Errorf("make private: %w", err)
	}
	return th.ID, nil
}

// Moved describes the outcome of Move.
type Moved struct {
	Handle   Handle
	From     string
	Channel  platform.Channel
	Warnings []string
}

// Move re-parents the channel under newType, renames it, recomputes its permissions,
// rewrites the pinned summary and updates the stored ticket. When newType requires a
// region and none is known, nothing is changed and errs.ErrRegionRequired is returned
// so the caller can ask for one and call Move again.
func (p *Provisioner) Move(ctx context.Context, channelID, newType, region string, actorID string) (*Moved, error) {
	tt, ok := p.types.Lookup(newType)
	if !ok {
		return nil, fmt.Errorf("move: %q: %w", newType, errs.ErrUnknownTicketType)
	}
	ch, err := p.client.Channel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("move: channel: %w", err)
	}
	pinned, err := p.client.Pinned(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("move: pins: %w", err)
	}
	h, summary, err := FindSummary(pinned)
	if err != nil {
		return nil, fmt.Errorf("move: %w", err)
	}

	rec, recErr := p.registry.Get(ctx, h.RequesterID, h.Number)
	if recErr != nil {
		log.Printf("ticket: move %s: ticket record: %v", ch.Name, recErr)
	}
	if tt.RequiresRegion {
		if region == "" && rec != nil {
			region = rec.Server
		}
		if region == "" {
			return nil, fmt.Errorf("move to %s: %w", tt.Name, errs.ErrRegionRequired)
		}
		if !p.types.IsRegion(region) {
			return nil, fmt.Errorf("move: unknown region %q: %w", region, errs.ErrRegionRequired)
		}
	} else {
		region = ""
	}

	res := &Moved{Handle: Handle{RequesterID: h.RequesterID, Number: h.Number, Type: tt.Name}, From: h.Type}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Printf("ticket: move %s: %s", ch.Name, msg)
		res.Warnings = append(res.Warnings, msg)
	}

	var claim model.Claim
	claimed := false
	if err := p.kv.Get(ctx, store.ClaimKey(channelID), &claim); err == nil {
		claimed = true
	} else if !errors.Is(err, errs.ErrNotFound) {
		warn("could not read claim: %v", err)
	}

	if err := p.client.MoveChannel(ctx, channelID, tt.CategoryID); err != nil {
		warn("could not move the channel to the %s category: %v", tt.Name, err)
	}
	ows := p.Overwrites(tt)
	if claimed {
		ows = ApplyClaim(ows, tt, claim.UserID)
	}
	if err := p.client.SetOverwrites(ctx, channelID, ows); err != nil {
		warn("could not update channel permissions: %v", err)
	}
	name := ChannelName(region, tt.Name, h.Number)
	if claimed {
		name = WithClaimSuffix(name)
	}
	if err := p.client.RenameChannel(ctx, channelID, name); err != nil {
		warn("could not rename the channel to %s: %v", name, err)
	} else {
		ch.Name = name
	}
	res.Channel = ch

	if len(summary.Embeds) > 0 {
		embeds := append([]platform.Embed(nil), summary.Embeds...)
		embeds[0].Title = res.Handle.Title()
		embeds[0].Footer = res.Handle.Footer()
		if err := p.client.EditMessage(ctx, channelID, summary.ID, platform.Outgoing{Content: summary.Content, Embeds: embeds}); err != nil {
			warn("could not rewrite the ticket summary: %v", err)
		}
	}
	if rec != nil {
		if _, err := p.registry.Update(ctx, h.RequesterID, h.Number, func(t *model.Ticket) {
			t.Type = tt.Name
			if region != "" {
				t.Server = region
			}
		}); err != nil {
			warn("could not update the ticket record: %v", err)
		}
	}
	if claimed {
		claim.TicketType = tt.Name
		if err := p.kv.Set(ctx, store.ClaimKey(channelID), claim); err != nil {
			warn("could not update the claim record: %v", err)
		}
	}

	notice := fmt.Sprintf("Ticket moved from **%s** to **%s** by %s. %s",
		h.Type, tt.Name, platform.MentionUser(actorID), mentionRoles(tt.PingRoles()))
	if _, err := p.client.Send(ctx, channelID, platform.Outgoing{Content: strings.TrimSpace(notice)}); err != nil {
		log.Printf("ticket: move %s: notify: %v", ch.Name, err)
	}
	p.postWarnings(ctx, channelID, res.Warnings)
	return res, nil
}

func (p *Provisioner) postWarnings(ctx context.Context, channelID string, warnings []string) {
	for _, w := range warnings {
		if _, err := p.client.Send(ctx, channelID, platform.Outgoing{Content: WarningPrefix + w}); err != nil {
			log.Printf("ticket: post warning in %s: %v", channelID, err)
		}
	}
}

// SummaryEmbed builds the pinned summary. Title and footer carry the Handle.
func SummaryEmbed(h Handle, t *model.Ticket, answers []Answer) platform.Embed {
	e := platform.Embed{
		Title:       h.Title(),
		Description: fmt.Sprintf("Ticket opened by %s", platform.MentionUser(t.RequesterID)),
		Color:       summaryColor,
		Footer:      h.Footer(),
		Timestamp:   t.CreatedAt,
	}
	if t.Server != "" {
		e.Fields = append(e.Fields, platform.EmbedField{Name: "Region", Value: t.Server, Inline: true})
	}
	for _, a := range answers {
		e.Fields = append(e.Fields, platform.EmbedField{
			Name:  truncate(a.Question, maxFieldName),
			Value: truncate(nonEmpty(a.Answer), maxFieldValue),
		})
	}
	return e
}

func SummaryButtons() []platform.Button {
	return []platform.Button{
		{CustomID: ButtonClose, Label: "Close", Style: platform.ButtonDanger},
		{CustomID: ButtonClaim, Label: "Claim", Style: platform.ButtonSuccess},
		{CustomID: ButtonMove, Label: "Move", Style: platform.ButtonSecondary},
	}
}

func summaryContent(requesterID string, pingRoles []string) string {
	return strings.TrimSpace(platform.MentionUser(requesterID) + " " + mentionRoles(pingRoles))
}

func mentionRoles(roles []string) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = platform.MentionRole(r)
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func nonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

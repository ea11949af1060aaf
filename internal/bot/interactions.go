package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/psds-microservice/support-bot/internal/claim"
	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/intake"
	"github.com/psds-microservice/support-bot/internal/kafka"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/ticket"
)

// Slash commands.
const (
	CommandTicket  = "ticket"
	CommandClose   = "close"
	CommandMove    = "move"
	CommandClaim   = "claim"
	CommandUnclaim = "unclaim"
)

const (
	MoveSelectID      = "ticket:move:type"
	moveRegionModalID = "ticket:move:region:"
	regionField       = "region"
)

// Commands lists the slash commands to register.
func (b *Bot) Commands() []platform.Command {
	types := make([]platform.SelectOption, 0, len(b.types.Types))
	for _, name := range b.types.Names() {
		types = append(types, platform.SelectOption{Label: name, Value: name})
	}
	regions := make([]platform.SelectOption, 0, len(b.types.Regions))
	for _, r := range b.types.Regions {
		regions = append(regions, platform.SelectOption{Label: r.Label, Value: r.Value})
	}
	return []platform.Command{
		{Name: CommandTicket, Description: "Open a support ticket"},
		{Name: CommandClose, Description: "Close this ticket", Options: []platform.CommandOption{
			{Name: "reason", Description: "Why the ticket is closed"},
		}},
		{Name: CommandMove, Description: "Move this ticket to another type", Options: []platform.CommandOption{
			{Name: "type", Description: "Target ticket type", Required: true, Choices: types},
			{Name: regionField, Description: "Region, for types that need one", Choices: regions},
		}},
		{Name: CommandClaim, Description: "Claim this ticket"},
		{Name: CommandUnclaim, Description: "Release your claim on this ticket"},
	}
}

// HandleInteraction routes commands, buttons, selects and modal submissions. ctx must
// outlive the call: an intake started here keeps running on it.
func (b *Bot) HandleInteraction(ctx context.Context, in platform.Interaction) {
	switch in.Kind {
	case platform.InteractionCommand:
		b.command(ctx, in)
	case platform.InteractionComponent:
		b.component(ctx, in)
	case platform.InteractionModalSubmit:
		if typeName, ok := strings.CutPrefix(in.Name, moveRegionModalID); ok {
			region := strings.TrimSpace(in.Options[regionField])
			if !b.types.IsRegion(region) {
				b.fail(ctx, in, "move", fmt.Errorf("region %q: %w", region, errs.ErrRegionRequired))
				return
			}
			b.move(ctx, in, typeName, region)
			return
		}
		b.unknown(ctx, in)
	default:
		b.unknown(ctx, in)
	}
}

func (b *Bot) command(ctx context.Context, in platform.Interaction) {
	switch in.Name {
	case CommandTicket:
		b.respond(ctx, in, platform.Response{Content: "What do you need help with?", Select: b.intake.TypeSelect(), Ephemeral: true})
	case CommandClose:
		b.close(ctx, in, in.Options["reason"])
	case CommandMove:
		b.move(ctx, in, in.Options["type"], in.Options[regionField])
	case CommandClaim:
		b.claim(ctx, in, b.claims.Claim)
	case CommandUnclaim:
		b.claim(ctx, in, b.claims.Unclaim)
	default:
		b.unknown(ctx, in)
	}
}

func (b *Bot) component(ctx context.Context, in platform.Interaction) {
	value := ""
	if len(in.Values) > 0 {
		value = in.Values[0]
	}
	switch in.Name {
	case intake.TypeSelectID:
		b.startIntake(ctx, in, value)
	case intake.RegionSelectID:
		if !b.collector.OfferChoice(in.UserID, in.ChannelID, value) {
			log.Printf("bot: region choice from %s with no intake waiting", in.UserID)
		}
		b.respond(ctx, in, platform.Response{Deferred: true})
	case ticket.ButtonClose:
		b.close(ctx, in, "")
	case ticket.ButtonClaim:
		b.claim(ctx, in, b.claims.Toggle)
	case ticket.ButtonMove:
		if _, _, err := b.staff(ctx, in); err != nil {
			b.fail(ctx, in, "move", err)
			return
		}
		sel := &platform.Select{CustomID: MoveSelectID, Placeholder: "Move to..."}
		for _, name := range b.types.Names() {
			sel.Options = append(sel.Options, platform.SelectOption{Label: name, Value: name})
		}
		b.respond(ctx, in, platform.Response{Content: "Pick the new ticket type:", Select: sel, Ephemeral: true})
	case MoveSelectID:
		b.move(ctx, in, value, "")
	default:
		b.unknown(ctx, in)
	}
}

func (b *Bot) unknown(ctx context.Context, in platform.Interaction) {
	log.Printf("bot: unhandled interaction %q", in.Name)
	b.respond(ctx, in, platform.Response{Content: "Unknown action.", Ephemeral: true})
}

// staff resolves the interaction's channel to a ticket and checks the actor may
// manage it.
func (b *Bot) staff(ctx context.Context, in platform.Interaction) (platform.Channel, *config.TicketType, error) {
	ch, ok := b.ticketChannel(ctx, in.ChannelID)
	if !ok {
		return ch, nil, fmt.Errorf("channel %s: %w", in.ChannelID, errs.ErrSummaryMissing)
	}
	tt, _ := b.types.ByCategory(ch.ParentID)
	if !b.claims.IsStaff(tt, in.Roles) {
		return ch, tt, fmt.Errorf("%s in %s: %w", in.UserID, ch.Name, errs.ErrUnauthorized)
	}
	return ch, tt, nil
}

func (b *Bot) startIntake(ctx context.Context, in platform.Interaction, typeName string) {
	if _, ok := b.types.Lookup(typeName); !ok {
		b.fail(ctx, in, "intake", fmt.Errorf("%q: %w", typeName, errs.ErrUnknownTicketType))
		return
	}
	if b.sessions.Active(in.UserID) {
		b.fail(ctx, in, "intake", errs.ErrSessionActive)
		return
	}
	if _, open, err := b.client.FindChannelByTopic(ctx, in.UserID); err == nil && open {
		b.fail(ctx, in, "intake", errs.ErrTicketOpen)
		return
	}
	b.respond(ctx, in, platform.Response{Content: "Check your direct messages to continue.", Ephemeral: true})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.openTicket(ctx, in, typeName)
	}()
}

// openTicket runs the intake and, when it completes, registers and provisions the ticket.
// A refused private conversation is explained through the interaction that started it.
func (b *Bot) openTicket(ctx context.Context, in platform.Interaction, typeName string) {
	userID := in.UserID
	res, err := b.intake.Run(ctx, userID, typeName)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrDeliveryRefused):
			log.Printf("bot: intake for %s (%s): %v", userID, errs.Classify(err), err)
			notice := platform.Response{Content: errs.UserMessage(err) + " Enable direct messages from server members and try again.", Ephemeral: true}
			if ferr := b.client.FollowUp(ctx, in, notice); ferr != nil {
				log.Printf("bot: follow up to %s: %v", userID, ferr)
			}
			return
		case errors.Is(err, errs.ErrTicketOpen) || errors.Is(err, errs.ErrSessionActive):
			if dm, derr := b.client.DirectChannel(ctx, userID); derr == nil {
				b.report(ctx, "intake", dm, err)
				return
			}
		}
		log.Printf("bot: intake for %s ended: %v", userID, err)
		return
	}

	t, err := b.registry.Create(ctx, res.Type, userID, res.Region, res.Responses())
	if err != nil {
		b.report(ctx, "create ticket", res.DMChannelID, err)
		return
	}
	opened, err := b.prov.Open(ctx, t, res.Answers)
	if err != nil {
		if _, uerr := b.registry.Update(ctx, userID, t.Number, func(t *model.Ticket) {
			t.Status = model.TicketStatusClosed
			t.CloseReason = "ticket channel could not be created"
		}); uerr != nil {
			log.Printf("bot: abandon ticket %s: %v", t.Number, uerr)
		}
		b.report(ctx, "open ticket", res.DMChannelID, err)
		return
	}

	h := ticket.Handle{RequesterID: userID, Number: t.Number, Type: t.Type}
	text := fmt.Sprintf("Your ticket **%s** has been opened. Staff will reply here; send any further details in this conversation.", h.Title())
	if tt, ok := b.types.Lookup(t.Type); ok && tt.CompletionMessage != "" {
		text = tt.CompletionMessage
	}
	if _, err := b.client.Send(ctx, res.DMChannelID, platform.Outgoing{Content: text}); err != nil {
		log.Printf("bot: completion message to %s: %v", userID, err)
	}

	payload := ticketEventPayload(h, opened.Channel.ID, userID)
	payload["region"] = t.Server
	if len(opened.Warnings) > 0 {
		payload["warnings"] = opened.Warnings
	}
	b.emit(kafka.EventTicketOpened, payload)
}

func (b *Bot) close(ctx context.Context, in platform.Interaction, reason string) {
	ch, _, err := b.staff(ctx, in)
	if err != nil {
		b.fail(ctx, in, "close", err)
		return
	}
	b.respond(ctx, in, platform.Response{Content: "Closing this ticket..."})

	res, err := b.closer.Close(ctx, ch.ID, in.UserID, reason)
	if err != nil {
		b.report(ctx, "close", ch.ID, err)
		return
	}
	payload := ticketEventPayload(res.Handle, ch.ID, in.UserID)
	payload["reason"] = res.Reason
	payload["transcript_ref"] = res.TranscriptRef
	if len(res.Failed) > 0 {
		payload["failed_steps"] = res.Failed
	}
	b.emit(kafka.EventTicketClosed, payload)
}

func (b *Bot) move(ctx context.Context, in platform.Interaction, typeName, region string) {
	ch, _, err := b.staff(ctx, in)
	if err != nil {
		b.fail(ctx, in, "move", err)
		return
	}
	target, ok := b.types.Lookup(typeName)
	if !ok {
		b.fail(ctx, in, "move", fmt.Errorf("%q: %w", typeName, errs.ErrUnknownTicketType))
		return
	}
	if region == "" && b.needsRegion(ctx, ch.ID, target) {
		b.respond(ctx, in, platform.Response{Modal: &platform.Modal{
			CustomID: moveRegionModalID + target.Name,
			Title:    "Move to " + target.Name,
			FieldID:  regionField,
			Label:    "Region",
		}})
		return
	}
	b.respond(ctx, in, platform.Response{Content: fmt.Sprintf("Moving this ticket to **%s**...", target.Name), Ephemeral: true})

	res, err := b.prov.Move(ctx, ch.ID, target.Name, region, in.UserID)
	if err != nil {
		b.report(ctx, "move", ch.ID, err)
		return
	}
	payload := ticketEventPayload(res.Handle, ch.ID, in.UserID)
	payload["from"] = res.From
	if len(res.Warnings) > 0 {
		payload["warnings"] = res.Warnings
	}
	b.emit(kafka.EventTicketMoved, payload)
}

// needsRegion reports whether moving into tt must ask for a region: the type wants
// one and the ticket has none on record.
func (b *Bot) needsRegion(ctx context.Context, channelID string, tt *config.TicketType) bool {
	if !tt.RequiresRegion {
		return false
	}
	pinned, err := b.client.Pinned(ctx, channelID)
	if err != nil {
		return false
	}
	h, _, err := ticket.FindSummary(pinned)
	if err != nil {
		return false
	}
	rec, err := b.registry.Get(ctx, h.RequesterID, h.Number)
	return err != nil || rec.Server == ""
}

type claimFunc func(ctx context.Context, channelID string, actor claim.Actor) (*claim.Result, error)

func (b *Bot) claim(ctx context.Context, in platform.Interaction, fn claimFunc) {
	res, err := fn(ctx, in.ChannelID, claim.Actor{UserID: in.UserID, Roles: in.Roles})
	if err != nil {
		b.fail(ctx, in, "claim", err)
		return
	}
	event, text := kafka.EventTicketUnclaimed, "Ticket released."
	if res.Claimed {
		event, text = kafka.EventTicketClaimed, "Ticket claimed."
	}
	b.respond(ctx, in, platform.Response{Content: text, Ephemeral: true})

	h := res.Handle
	if h.Number == "" {
		h = ticket.Handle{Number: res.Claim.TicketID, Type: res.Claim.TicketType}
	}
	payload := ticketEventPayload(h, in.ChannelID, in.UserID)
	payload["claimant_id"] = res.Claim.UserID
	b.emit(event, payload)
}

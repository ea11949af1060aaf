// Package bot routes platform events to the ticket components and is the one place
// their errors are reported.
package bot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/psds-microservice/support-bot/internal/claim"
	"github.com/psds-microservice/support-bot/internal/closure"
	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/intake"
	"github.com/psds-microservice/support-bot/internal/kafka"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/relay"
	"github.com/psds-microservice/support-bot/internal/ticket"
)

const eventTimeout = 5 * time.Second

// Deps: зависимости диспетчера, передаются явно, без глобального состояния.
type Deps struct {
	Client      platform.Client
	Types       *config.TicketTypes
	Registry    *ticket.Registry
	Provisioner *ticket.Provisioner
	Intake      *intake.Runner
	Collector   *intake.Collector
	Sessions    *intake.Sessions
	Relay       *relay.Relay
	Claims      *claim.Manager
	Closure     *closure.Pipeline
	Events      kafka.TicketEventProducer
}

type Bot struct {
	client    platform.Client
	types     *config.TicketTypes
	registry  *ticket.Registry
	prov      *ticket.Provisioner
	intake    *intake.Runner
	collector *intake.Collector
	sessions  *intake.Sessions
	relay     *relay.Relay
	claims    *claim.Manager
	closer    *closure.Pipeline
	events    kafka.TicketEventProducer

	wg sync.WaitGroup
}

func New(d Deps) *Bot {
	events := d.Events
	if events == nil {
		events = kafka.Nop{}
	}
	return &Bot{
		client:    d.Client,
		types:     d.Types,
		registry:  d.Registry,
		prov:      d.Provisioner,
		intake:    d.Intake,
		collector: d.Collector,
		sessions:  d.Sessions,
		relay:     d.Relay,
		claims:    d.Claims,
		closer:    d.Closure,
		events:    events,
	}
}

// Wait blocks until every running intake session has ended.
func (b *Bot) Wait() { b.wg.Wait() }

// report is the funnel every handler error ends in: one log line, and a notice in
// channelID when there is someone there to read it.
func (b *Bot) report(ctx context.Context, action, channelID string, err error) {
	log.Printf("bot: %s (%s): %v", action, errs.Classify(err), err)
	if channelID == "" {
		return
	}
	if _, serr := b.client.Send(ctx, channelID, platform.Outgoing{Content: ticket.WarningPrefix + errs.UserMessage(err)}); serr != nil {
		log.Printf("bot: report %s to %s: %v", action, channelID, serr)
	}
}

// fail answers an interaction with the explanation for err, visible only to the actor.
func (b *Bot) fail(ctx context.Context, in platform.Interaction, action string, err error) {
	log.Printf("bot: %s (%s): %v", action, errs.Classify(err), err)
	b.respond(ctx, in, platform.Response{Content: errs.UserMessage(err), Ephemeral: true})
}

func (b *Bot) respond(ctx context.Context, in platform.Interaction, resp platform.Response) {
	if err := b.client.Respond(ctx, in, resp); err != nil {
		log.Printf("bot: respond to %s: %v", in.Name, err)
	}
}

// emit публикует событие жизненного цикла; отмена исходного события не должна его терять.
func (b *Bot) emit(event string, payload map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	b.events.ProduceTicketEvent(ctx, event, payload)
}

func ticketEventPayload(h ticket.Handle, channelID, actorID string) map[string]interface{} {
	return map[string]interface{}{
		"ticket_id":    h.Number,
		"type":         h.Type,
		"requester_id": h.RequesterID,
		"channel_id":   channelID,
		"actor_id":     actorID,
	}
}

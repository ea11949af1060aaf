// Package closure closes ticket channels: it archives the summary, renders and stores
// transcripts, notifies the requester and schedules the channel for deletion.
package closure

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/store"
	"github.com/psds-microservice/support-bot/internal/ticket"
	"github.com/psds-microservice/support-bot/internal/transcript"
)

const (
	defaultReason = "No reason given"
	closedColor   = 0xED4245
	closedByField = "Closed by"
)

// Saver persists a rendered transcript and returns where it went.
type Saver interface {
	Save(name string, data []byte) (string, error)
}

type Options struct {
	GraceDelay        time.Duration
	TranscriptBaseURL string
	// TranscriptKey signs requester transcript links; empty leaves them unsigned.
	TranscriptKey []byte
}

// Result describes a close. Failed lists the steps that did not complete; none of
// them stopped the close.
type Result struct {
	Handle        ticket.Handle
	Ticket        *model.Ticket
	ChannelName   string
	FullFile      string
	UserFile      string
	TranscriptRef string
	Reason        string
	Failed        []string
}

type Pipeline struct {
	client   platform.Client
	kv       store.KV
	types    *config.TicketTypes
	registry *ticket.Registry
	renderer *transcript.Renderer
	files    Saver
	opts     Options
	schedule func(time.Duration, func())
	now      func() time.Time
}

func New(client platform.Client, kv store.KV, types *config.TicketTypes, registry *ticket.Registry, renderer *transcript.Renderer, files Saver, opts Options) *Pipeline {
	return &Pipeline{
		client:   client,
		kv:       kv,
		types:    types,
		registry: registry,
		renderer: renderer,
		files:    files,
		opts:     opts,
		schedule: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		now:      time.Now,
	}
}

// WithScheduler replaces how delayed channel deletion is run; used by tests.
func (p *Pipeline) WithScheduler(schedule func(time.Duration, func())) *Pipeline {
	p.schedule = schedule
	return p
}

// Close closes the ticket in channelID on behalf of actorID. Only failing to work out
// which ticket the channel holds is fatal; every later step logs its failure and the
// pipeline carries on, ending with the channel deletion being scheduled.
func (p *Pipeline) Close(ctx context.Context, channelID, actorID, reason string) (*Result, error) {
	ch, err := p.client.Channel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", channelID, err)
	}
	pinned, err := p.client.Pinned(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("close %s: pins: %w", ch.Name, err)
	}
	h, summary, err := ticket.FindSummary(pinned)
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", ch.Name, err)
	}

	if strings.TrimSpace(reason) == "" {
		reason = defaultReason
	}
	closedAt := p.now().UTC()
	res := &Result{Handle: h, ChannelName: ch.Name, Reason: reason}
	fail := func(step string, err error) {
		log.Printf("closure: %s: %s: %v", ch.Name, step, err)
		res.Failed = append(res.Failed, step)
	}

	tt, ok := p.types.Lookup(h.Type)
	if !ok {
		fail("type lookup", fmt.Errorf("%q: %w", h.Type, errs.ErrUnknownTicketType))
	}
	rec, err := p.registry.Get(ctx, h.RequesterID, h.Number)
	if err != nil {
		fail("ticket lookup", err)
	}

	closed := closedSummary(summary, actorID, reason, closedAt)
	if err := p.client.EditMessage(ctx, channelID, summary.ID, platform.Outgoing{Content: summary.Content, Embeds: closed}); err != nil {
		fail("summary edit", err)
	}

	var fullHTML []byte
	history, err := p.client.History(ctx, channelID)
	if err != nil {
		fail("history", err)
	} else {
		doc := p.document(ch, h, actorID, reason, closedAt)
		doc.Entries = p.fullEntries(history)
		if fullHTML, err = p.renderer.Render(doc); err != nil {
			fail("full transcript", err)
		} else if _, err := p.files.Save(ch.Name+".html", fullHTML); err != nil {
			fail("full transcript", err)
		} else {
			res.FullFile = ch.Name + ".html"
		}

		// The requester copy names the closer only when the type shows staff identities.
		anonymous := tt == nil || tt.Anonymous()
		if anonymous {
			doc.CloseUserID = ""
		}
		doc.Entries = p.userEntries(ctx, history, summary.ID, anonymous)
		userName := ch.Name + "-user.html"
		if data, err := p.renderer.Render(doc); err != nil {
			fail("user transcript", err)
		} else if _, err := p.files.Save(userName, data); err != nil {
			fail("user transcript", err)
		} else {
			res.UserFile = userName
			res.TranscriptRef = p.transcriptRef(userName)
		}
	}

	if tt != nil && tt.LogChannelID != "" {
		out := platform.Outgoing{Embeds: closed}
		if res.TranscriptRef != "" {
			out.Content = "Transcript: " + res.TranscriptRef
		}
		if fullHTML != nil {
			out.Files = []platform.File{{Name: ch.Name + ".html", Data: fullHTML}}
		}
		if _, err := p.client.Send(ctx, tt.LogChannelID, out); err != nil {
			fail("log forward", err)
		}
	}

	if rec != nil {
		updated, err := p.registry.Update(ctx, h.RequesterID, h.Number, func(t *model.Ticket) {
			t.Status = model.TicketStatusClosed
			t.CloseTime = &closedAt
			t.CloseUser = actorID
			t.CloseReason = reason
			t.TranscriptRef = res.TranscriptRef
		})
		if err != nil {
			fail("ticket update", err)
		} else {
			res.Ticket = updated
		}
	}

	if err := p.notifyRequester(ctx, h, reason, res.TranscriptRef); err != nil {
		fail("notify requester", err)
	}

	if rec != nil && rec.ThreadID != "" {
		if err := p.client.ArchiveThread(ctx, rec.ThreadID); err != nil && !errors.Is(err, errs.ErrGone) {
			fail("archive thread", err)
		}
	}
	if err := p.kv.Delete(ctx, store.ClaimKey(channelID)); err != nil {
		fail("claim cleanup", err)
	}

	p.schedule(p.opts.GraceDelay, func() {
		if err := p.client.DeleteChannel(context.Background(), channelID); err != nil && !errors.Is(err, errs.ErrGone) {
			log.Printf("closure: delete channel %s: %v", ch.Name, err)
		}
	})
	return res, nil
}

func (p *Pipeline) transcriptRef(name string) string {
	if p.opts.TranscriptBaseURL == "" {
		return name
	}
	ref := strings.TrimRight(p.opts.TranscriptBaseURL, "/") + "/" + name
	if len(p.opts.TranscriptKey) > 0 {
		ref += "?token=" + transcript.Sign(p.opts.TranscriptKey, name)
	}
	return ref
}

func (p *Pipeline) notifyRequester(ctx context.Context, h ticket.Handle, reason, ref string) error {
	dm, err := p.client.DirectChannel(ctx, h.RequesterID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Your ticket **%s** has been closed.\n**Reason:** %s", h.Title(), reason)
	if ref != "" {
		text += "\n**Transcript:** " + ref
	}
	_, err = p.client.Send(ctx, dm, platform.Outgoing{Content: text})
	return err
}

func (p *Pipeline) document(ch platform.Channel, h ticket.Handle, actorID, reason string, at time.Time) transcript.Document {
	return transcript.Document{
		Title:       h.Title(),
		ChannelName: ch.Name,
		TicketID:    h.Number,
		Type:        h.Type,
		RequesterID: h.RequesterID,
		CloseUserID: actorID,
		CloseReason: reason,
		Generated:   at,
	}
}

// closedSummary returns the summary embeds with the close metadata appended.
func closedSummary(summary platform.Message, actorID, reason string, at time.Time) []platform.Embed {
	embeds := append([]platform.Embed(nil), summary.Embeds...)
	if len(embeds) == 0 {
		return embeds
	}
	e := embeds[0]
	e.Fields = append(append([]platform.EmbedField(nil), e.Fields...),
		platform.EmbedField{Name: closedByField, Value: platform.MentionUser(actorID), Inline: true},
		platform.EmbedField{Name: "Closed at", Value: at.Format(time.RFC1123), Inline: true},
		platform.EmbedField{Name: "Reason", Value: reason},
	)
	e.Color = closedColor
	embeds[0] = e
	return embeds
}

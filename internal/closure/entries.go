package closure

import (
	"context"
	"errors"
	"log"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/relay"
	"github.com/psds-microservice/support-bot/internal/store"
	"github.com/psds-microservice/support-bot/internal/transcript"
)

// fullEntries keeps every message under its real author.
func (p *Pipeline) fullEntries(history []platform.Message) []transcript.Entry {
	out := make([]transcript.Entry, 0, len(history))
	for _, m := range history {
		out = append(out, toEntry(m))
	}
	return out
}

// userEntries is what the requester saw: their own relayed messages, the summary, and
// staff replies that reached them, with anonymous replies shown under the support
// identity. Bot bookkeeping, system notices, notes and unrelayed staff messages are
// dropped. In anonymous mode the closer is cut from the summary.
func (p *Pipeline) userEntries(ctx context.Context, history []platform.Message, summaryID string, anonymous bool) []transcript.Entry {
	out := make([]transcript.Entry, 0, len(history))
	for _, m := range history {
		switch {
		case m.Kind != platform.KindDefault:
			continue
		case m.WebhookID != "":
			out = append(out, toEntry(m))
			continue
		case m.ID == summaryID:
			e := toEntry(m)
			if anonymous {
				e.Embeds = withoutField(e.Embeds, closedByField)
			}
			out = append(out, e)
			continue
		case m.AuthorBot:
			continue
		case relay.IsNote(m.Content):
			continue
		}

		var sent model.StaffToDM
		if err := p.kv.Get(ctx, store.StaffToDMKey(m.ID), &sent); err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				log.Printf("closure: relay mapping %s: %v", m.ID, err)
			}
			continue
		}
		e := toEntry(m)
		_, e.Content = relay.ParseReplyMode(m.Content, sent.Anonymous)
		if sent.Anonymous {
			e.AuthorID = ""
			e.AuthorName = relay.AnonymousName
			e.AuthorAvatar = ""
		}
		out = append(out, e)
	}
	return out
}

func toEntry(m platform.Message) transcript.Entry {
	e := transcript.Entry{
		ID:           m.ID,
		AuthorID:     m.AuthorID,
		AuthorName:   m.AuthorName,
		AuthorAvatar: m.AuthorAvatar,
		Bot:          m.AuthorBot && m.WebhookID == "",
		Content:      m.Content,
		At:           m.CreatedAt,
	}
	for _, a := range m.Attachments {
		e.Attachments = append(e.Attachments, transcript.Attachment{Name: a.Filename, URL: a.URL})
	}
	for _, em := range m.Embeds {
		te := transcript.Embed{Title: em.Title, Description: em.Description, Footer: em.Footer}
		for _, f := range em.Fields {
			te.Fields = append(te.Fields, transcript.Field{Name: f.Name, Value: f.Value})
		}
		e.Embeds = append(e.Embeds, te)
	}
	return e
}

func withoutField(embeds []transcript.Embed, name string) []transcript.Embed {
	for i := range embeds {
		kept := embeds[i].Fields[:0:0]
		for _, f := range embeds[i].Fields {
			if f.Name != name {
				kept = append(kept, f)
			}
		}
		embeds[i].Fields = kept
	}
	return embeds
}

// Package relay mirrors messages between a requester's private conversation and the
// staff-facing ticket channel, and replays edits and deletions on the mirrors.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/store"
)

// AnonymousName is the identity anonymous staff replies are shown under.
const AnonymousName = "Support Team"

type Options struct {
	ChunkLimit        int
	AllowedExtensions []string
}

type Relay struct {
	client platform.Client
	kv     store.KV
	types  *config.TicketTypes
	opts   Options
	locks  keyLocks
}

func New(client platform.Client, kv store.KV, types *config.TicketTypes, opts Options) *Relay {
	if opts.ChunkLimit <= 0 || opts.ChunkLimit > config.MaxChunkLimit {
		opts.ChunkLimit = config.MaxChunkLimit
	}
	return &Relay{client: client, kv: kv, types: types, opts: opts}
}

// sender posts one outgoing message on the target surface.
type sender func(ctx context.Context, out platform.Outgoing) (platform.Message, error)

// FromRequester mirrors a private message from the requester into their ticket
// channel under the requester's own name. errs.ErrTicketNotFound means the user
// has no open ticket.
func (r *Relay) FromRequester(ctx context.Context, msg platform.Message) error {
	ch, ok, err := r.client.FindChannelByTopic(ctx, msg.AuthorID)
	if err != nil {
		return fmt.Errorf("relay: find ticket of %s: %w", msg.AuthorID, err)
	}
	if !ok {
		return fmt.Errorf("relay: %s: %w", msg.AuthorID, errs.ErrTicketNotFound)
	}
	if err := ValidateAttachments(msg.Attachments, r.opts.AllowedExtensions); err != nil {
		return err
	}
	send := r.asRequester(ctx, ch.ID, msg)
	m, err := r.mirror(ctx, send, msg.Content, filesOf(msg.Attachments))
	if len(m.MessageIDs()) > 0 {
		if serr := r.kv.Set(ctx, store.DMToStaffKey(msg.ID), model.DMToStaff{ChannelID: ch.ID, Mirror: m}); serr != nil {
			log.Printf("relay: store mapping for %s: %v", msg.ID, serr)
		}
	}
	if err != nil {
		return fmt.Errorf("relay to %s: %w", ch.Name, err)
	}
	return nil
}

// FromStaff mirrors a staff message posted in ticket channel ch into the requester's
// private conversation. Notes are skipped. The requester is the channel topic.
func (r *Relay) FromStaff(ctx context.Context, ch platform.Channel, msg platform.Message) error {
	if IsNote(msg.Content) {
		return nil
	}
	anonymous, text := ParseReplyMode(msg.Content, r.defaultAnonymous(ch))
	if text == "" && len(msg.Attachments) == 0 {
		return nil
	}
	if err := ValidateAttachments(msg.Attachments, r.opts.AllowedExtensions); err != nil {
		return err
	}
	if ch.Topic == "" {
		return fmt.Errorf("relay: channel %s has no requester: %w", ch.Name, errs.ErrTicketNotFound)
	}
	dm, err := r.client.DirectChannel(ctx, ch.Topic)
	if err != nil {
		return fmt.Errorf("relay: open dm with %s: %w", ch.Topic, err)
	}
	body := r.attribute(ctx, msg, anonymous, text)
	m, err := r.mirror(ctx, r.asBot(dm), body, filesOf(msg.Attachments))
	if len(m.MessageIDs()) > 0 {
		rec := model.StaffToDM{DMChannelID: dm, Mirror: m, AuthorID: msg.AuthorID, Anonymous: anonymous}
		if serr := r.kv.Set(ctx, store.StaffToDMKey(msg.ID), rec); serr != nil {
			log.Printf("relay: store mapping for %s: %v", msg.ID, serr)
		}
	}
	if err != nil {
		return fmt.Errorf("relay to requester %s: %w", ch.Topic, err)
	}
	return nil
}

// Edited replays an edit of a relayed source message. Text mirrors are replaced; the
// files message is never touched. Messages without a mapping are ignored. If the
// source is deleted while the edit is in flight, the fresh mirrors are removed and
// no mapping is written.
func (r *Relay) Edited(ctx context.Context, msg platform.Message) error {
	var toStaff model.DMToStaff
	err := r.kv.Get(ctx, store.DMToStaffKey(msg.ID), &toStaff)
	if err == nil {
		send := r.asRequester(ctx, toStaff.ChannelID, msg)
		m, err := r.replace(ctx, toStaff.ChannelID, toStaff.Mirror, send, msg.Content)
		toStaff.Mirror = m
		return r.saveAfterEdit(ctx, store.DMToStaffKey(msg.ID), toStaff, toStaff.ChannelID, m, err)
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("relay edit %s: %w", msg.ID, err)
	}

	var toDM model.StaffToDM
	err = r.kv.Get(ctx, store.StaffToDMKey(msg.ID), &toDM)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("relay edit %s: %w", msg.ID, err)
	}
	_, text := ParseReplyMode(msg.Content, toDM.Anonymous)
	body := r.attribute(ctx, msg, toDM.Anonymous, text)
	m, err := r.replace(ctx, toDM.DMChannelID, toDM.Mirror, r.asBot(toDM.DMChannelID), body)
	toDM.Mirror = m
	return r.saveAfterEdit(ctx, store.StaffToDMKey(msg.ID), toDM, toDM.DMChannelID, m, err)
}

// saveAfterEdit writes the new mapping only while the old one still exists.
func (r *Relay) saveAfterEdit(ctx context.Context, key string, rec any, channelID string, m model.Mirror, editErr error) error {
	unlock := r.locks.lock(key)
	var current json.RawMessage
	err := r.kv.Get(ctx, key, &current)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		unlock()
		r.deleteAll(ctx, channelID, m.MessageIDs())
		return nil
	case err != nil:
		log.Printf("relay: reload mapping %s: %v", key, err)
	default:
		if err := r.kv.Set(ctx, key, rec); err != nil {
			log.Printf("relay: store mapping %s: %v", key, err)
		}
	}
	unlock()
	if editErr != nil {
		return fmt.Errorf("relay edit: %w", editErr)
	}
	return nil
}

// Deleted removes the mapping of a deleted source message, then every mirror it
// names. Missing mappings and already-deleted mirrors are not errors.
func (r *Relay) Deleted(ctx context.Context, messageID string) error {
	var toStaff model.DMToStaff
	found, err := r.take(ctx, store.DMToStaffKey(messageID), &toStaff)
	if err != nil {
		return fmt.Errorf("relay delete %s: %w", messageID, err)
	}
	if found {
		r.deleteAll(ctx, toStaff.ChannelID, toStaff.MessageIDs())
		return nil
	}

	var toDM model.StaffToDM
	found, err = r.take(ctx, store.StaffToDMKey(messageID), &toDM)
	if err != nil {
		return fmt.Errorf("relay delete %s: %w", messageID, err)
	}
	if found {
		r.deleteAll(ctx, toDM.DMChannelID, toDM.MessageIDs())
	}
	return nil
}

// take reads the mapping at key into dst and removes it.
func (r *Relay) take(ctx context.Context, key string, dst any) (bool, error) {
	defer r.locks.lock(key)()
	err := r.kv.Get(ctx, key, dst)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, r.kv.Delete(ctx, key)
}

func (r *Relay) deleteAll(ctx context.Context, channelID string, ids []string) {
	for _, id := range ids {
		if err := r.client.DeleteMessage(ctx, channelID, id); err != nil && !errors.Is(err, errs.ErrGone) {
			log.Printf("relay: delete mirror %s: %v", id, err)
		}
	}
}

// mirror sends text and files in one of three shapes: one combined message when the
// text fits a single chunk, a files-only message, or an optional files message
// followed by text chunks. On a partial failure the ids sent so far are returned.
func (r *Relay) mirror(ctx context.Context, send sender, text string, files []platform.File) (model.Mirror, error) {
	chunks := Chunk(text, r.opts.ChunkLimit)
	var m model.Mirror
	if len(files) > 0 {
		if len(chunks) <= 1 {
			out := platform.Outgoing{Files: files}
			if len(chunks) == 1 {
				out.Content = chunks[0]
			}
			msg, err := send(ctx, out)
			if err != nil {
				return m, err
			}
			if len(chunks) == 0 {
				m.Shape, m.FilesMsgID = model.ShapeFiles, msg.ID
			} else {
				m.Shape, m.CombinedMsgID = model.ShapeCombined, msg.ID
			}
			return m, nil
		}
		msg, err := send(ctx, platform.Outgoing{Files: files})
		if err != nil {
			return m, err
		}
		m.FilesMsgID = msg.ID
	}
	m.Shape = model.ShapeChunks
	ids, err := sendChunks(ctx, send, chunks)
	m.TextMsgIDs = ids
	return m, err
}

// replace swaps the text part of a mirror for the chunks of text. A combined message is
// edited in place with the first chunk; later chunks become plain text messages.
func (r *Relay) replace(ctx context.Context, channelID string, m model.Mirror, send sender, text string) (model.Mirror, error) {
	if !m.HasText() {
		return m, nil
	}
	chunks := Chunk(text, r.opts.ChunkLimit)
	r.deleteAll(ctx, channelID, m.TextMsgIDs)
	m.TextMsgIDs = nil
	if m.CombinedMsgID != "" {
		first := ""
		if len(chunks) > 0 {
			first, chunks = chunks[0], chunks[1:]
		}
		if err := r.client.EditMessage(ctx, channelID, m.CombinedMsgID, platform.Outgoing{Content: first}); err != nil {
			return m, err
		}
	}
	ids, err := sendChunks(ctx, send, chunks)
	m.TextMsgIDs = ids
	return m, err
}

func sendChunks(ctx context.Context, send sender, chunks []string) ([]string, error) {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		msg, err := send(ctx, platform.Outgoing{Content: c})
		if err != nil {
			return ids, err
		}
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (r *Relay) asRequester(ctx context.Context, channelID string, msg platform.Message) sender {
	as := platform.Identity{Name: msg.AuthorName, AvatarURL: msg.AuthorAvatar}
	if as.Name == "" || as.AvatarURL == "" {
		if u, err := r.client.User(ctx, msg.AuthorID); err == nil {
			if as.Name == "" {
				as.Name = u.Name
			}
			if as.AvatarURL == "" {
				as.AvatarURL = u.AvatarURL
			}
		}
	}
	return func(ctx context.Context, out platform.Outgoing) (platform.Message, error) {
		return r.client.SendAs(ctx, channelID, as, out)
	}
}

func (r *Relay) asBot(channelID string) sender {
	return func(ctx context.Context, out platform.Outgoing) (platform.Message, error) {
		return r.client.Send(ctx, channelID, out)
	}
}

// attribute prefixes a staff reply with the name the requester sees.
func (r *Relay) attribute(ctx context.Context, msg platform.Message, anonymous bool, text string) string {
	name := AnonymousName
	if !anonymous {
		name = msg.AuthorName
		if name == "" {
			if u, err := r.client.User(ctx, msg.AuthorID); err == nil {
				name = u.Name
			}
		}
	}
	header := "**" + name + ":**"
	if text == "" {
		return header
	}
	return header + "\n" + text
}

func (r *Relay) defaultAnonymous(ch platform.Channel) bool {
	if r.types == nil {
		return true
	}
	if tt, ok := r.types.ByCategory(ch.ParentID); ok {
		return tt.Anonymous()
	}
	return true
}

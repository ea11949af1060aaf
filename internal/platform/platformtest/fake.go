// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/platform"
)

const BotID = "bot"

type channel struct {
	info       platform.Channel
	overwrites map[string]platform.Overwrite
	messages   []*platform.Message
	pins       map[string]bool
	thread     bool
	private    bool
	archived   bool
	deleted    bool
}

type Responded struct {
	Interaction platform.Interaction
	Response    platform.Response
	FollowUp    bool
}

// Fake is a goroutine-safe in-memory platform.
type Fake struct {
	mu       sync.Mutex
	seq      int
	now      time.Time
	channels map[string]*channel
	dms      map[string]string
	users    map[string]platform.User
	roles    map[string][]string
	refuse   map[string]bool
	failures map[string]error

	// DMAttempts counts DirectChannel+Send attempts per refused user.
	DMAttempts map[string]int
	Calls      []string
	Responses  []Responded
}

func New() *Fake {
	return &Fake{
		now:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		channels:   make(map[string]*channel),
		dms:        make(map[string]string),
		users:      map[string]platform.User{BotID: {ID: BotID, Name: "Support Bot", Bot: true}},
		roles:      make(map[string][]string),
		refuse:     make(map[string]bool),
		failures:   make(map[string]error),
		DMAttempts: make(map[string]int),
	}
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *Fake) record(call string) { f.Calls = append(f.Calls, call) }

// Fail makes every later call to op return err until Clear is called.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *Fake) Clear(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, op)
}

func (f *Fake) failure(op string) error { return f.failures[op] }

// AddUser registers a user with guild roles.
func (f *Fake) AddUser(u platform.User, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	f.roles[u.ID] = roles
}

// RefuseDMs makes every private send to userID fail with errs.ErrDeliveryRefused.
func (f *Fake) RefuseDMs(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refuse[userID] = true
}

// AddChannel seeds an existing guild channel.
func (f *Fake) AddChannel(ch platform.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ID] = &channel{info: ch, overwrites: map[string]platform.Overwrite{}, pins: map[string]bool{}}
}

// Post appends a message authored by someone other than the bot, as if it arrived from the gateway.
func (f *Fake) Post(channelID, authorID, content string, attachments ...platform.Attachment) platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := f.channels[channelID]
	msg := &platform.Message{
		ID:          f.nextID("m"),
		ChannelID:   channelID,
		GuildID:     ch.info.GuildID,
		AuthorID:    authorID,
		AuthorName:  f.users[authorID].Name,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   f.tick(),
	}
	ch.messages = append(ch.messages, msg)
	return *msg
}

// EditPosted replaces the content of an existing message and returns it.
func (f *Fake) EditPosted(channelID, messageID, content string) platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.channels[channelID].messages {
		if m.ID == messageID {
			m.Content = content
			return *m
		}
	}
	return platform.Message{}
}

func (f *Fake) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *Fake) live(id string) (*channel, error) {
	ch, ok := f.channels[id]
	if !ok || ch.deleted {
		return nil, fmt.Errorf("channel %s: %w", id, errs.ErrGone)
	}
	return ch, nil
}

func (f *Fake) BotID() string { return BotID }

func (f *Fake) CreateChannel(_ context.Context, spec platform.ChannelSpec) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateChannel:" + spec.Name)
	if err := f.failure("CreateChannel"); err != nil {
		return platform.Channel{}, err
	}
	ch := &channel{
		info:       platform.Channel{ID: f.nextID("c"), GuildID: "guild", Name: spec.Name, Topic: spec.Topic, ParentID: spec.ParentID},
		overwrites: map[string]platform.Overwrite{},
		pins:       map[string]bool{},
	}
	for _, o := range spec.Overwrites {
		ch.overwrites[o.ID] = o
	}
	f.channels[ch.info.ID] = ch
	return ch.info, nil
}

func (f *Fake) Channel(_ context.Context, id string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, err := f.live(id)
	if err != nil {
		return platform.Channel{}, err
	}
	return ch.info, nil
}

func (f *Fake) FindChannelByTopic(_ context.Context, topic string) (platform.Channel, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.channels))
	for id := range f.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ch := f.channels[id]
		if !ch.deleted && !ch.thread && ch.info.GuildID != "" && ch.info.Topic == topic {
			return ch.info, true, nil
		}
	}
	return platform.Channel{}, false, nil
}

func (f *Fake) RenameChannel(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RenameChannel:" + name)
	if err := f.failure("RenameChannel"); err != nil {
		return err
	}
	ch, err := f.live(id)
	if err != nil {
		return err
	}
	ch.info.Name = name
	return nil
}

func (f *Fake) MoveChannel(_ context.Context, id, parentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MoveChannel:" + parentID)
	if err := f.failure("MoveChannel"); err != nil {
		return err
	}
	ch, err := f.live(id)
	if err != nil {
		return err
	}
	ch.info.ParentID = parentID
	return nil
}

func (f *Fake) SetOverwrites(_ context.Context, id string, ows []platform.Overwrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetOverwrites:" + id)
	if err := f.failure("SetOverwrites"); err != nil {
		return err
	}
	ch, err := f.live(id)
	if err != nil {
		return err
	}
	ch.overwrites = map[string]platform.Overwrite{}
	for _, o := range ows {
		ch.overwrites[o.ID] = o
	}
	return nil
}

func (f *Fake) SetOverwrite(_ context.Context, id string, o platform.Overwrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetOverwrite:" + o.ID)
	if err := f.failure("SetOverwrite"); err != nil {
		return err
	}
	ch, err := f.live(id)
	if err != nil {
		return err
	}
	ch.overwrites[o.ID] = o
	return nil
}

func (f *Fake) DeleteOverwrite(_ context.Context, id, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteOverwrite:" + targetID)
	ch, err := f.live(id)
	if err != nil {
		return err
	}
	delete(ch.overwrites, targetID)
	return nil
}

func (f *Fake) DeleteChannel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteChannel:" + id)
	ch, err := f.live(id)
	if err != nil {
		return err
	}
	ch.deleted = true
	return nil
}

func (f *Fake) send(channelID string, author platform.User, webhook bool, out platform.Outgoing) (platform.Message, error) {
	ch, err := f.live(channelID)
	if err != nil {
		return platform.Message{}, err
	}
	if ch.info.GuildID == "" {
		for uid, dm := range f.dms {
			if dm == channelID && f.refuse[uid] {
				f.DMAttempts[uid]++
				return platform.Message{}, fmt.Errorf("send dm to %s: %w", uid, errs.ErrDeliveryRefused)
			}
		}
	}
	msg := &platform.Message{
		ID:         f.nextID("m"),
		ChannelID:  channelID,
		GuildID:    ch.info.GuildID,
		AuthorID:   author.ID,
		AuthorName: author.Name,
		AuthorBot:  true,
		Content:    out.Content,
		Embeds:     append([]platform.Embed(nil), out.Embeds...),
		CreatedAt:  f.tick(),
	}
	if webhook {
		msg.WebhookID = "wh-" + channelID
		msg.AuthorAvatar = author.AvatarURL
	}
	for _, file := range out.Files {
		msg.Attachments = append(msg.Attachments, platform.Attachment{ID: f.nextID("a"), Filename: file.Name, URL: file.URL})
	}
	ch.messages = append(ch.messages, msg)
	return *msg, nil
}

func (f *Fake) Send(_ context.Context, channelID string, out platform.Outgoing) (platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Send:" + channelID)
	if err := f.failure("Send"); err != nil {
		return platform.Message{}, err
	}
	return f.send(channelID, f.users[BotID], false, out)
}

func (f *Fake) SendAs(_ context.Context, channelID string, as platform.Identity, out platform.Outgoing) (platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SendAs:" + channelID)
	if err := f.failure("SendAs"); err != nil {
		return platform.Message{}, err
	}
	return f.send(channelID, platform.User{ID: "webhook", Name: as.Name, AvatarURL: as.AvatarURL}, true, out)
}

func (f *Fake) EditMessage(_ context.Context, channelID, messageID string, out platform.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("EditMessage:" + messageID)
	if err := f.failure("EditMessage"); err != nil {
		return err
	}
	ch, err := f.live(channelID)
	if err != nil {
		return err
	}
	for _, m := range ch.messages {
		if m.ID == messageID {
			m.Content = out.Content
			if out.Embeds != nil {
				m.Embeds = append([]platform.Embed(nil), out.Embeds...)
			}
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, errs.ErrGone)
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteMessage:" + messageID)
	ch, err := f.live(channelID)
	if err != nil {
		return err
	}
	for i, m := range ch.messages {
		if m.ID == messageID {
			ch.messages = append(ch.messages[:i], ch.messages[i+1:]...)
			delete(ch.pins, messageID)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, errs.ErrGone)
}

func (f *Fake) Pin(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Pin:" + messageID)
	if err := f.failure("Pin"); err != nil {
		return err
	}
	ch, err := f.live(channelID)
	if err != nil {
		return err
	}
	ch.pins[messageID] = true
	return nil
}

func (f *Fake) Pinned(_ context.Context, channelID string) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, err := f.live(channelID)
	if err != nil {
		return nil, err
	}
	var out []platform.Message
	for _, m := range ch.messages {
		if ch.pins[m.ID] {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *Fake) History(_ context.Context, channelID string) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, err := f.live(channelID)
	if err != nil {
		return nil, err
	}
	out := make([]platform.Message, len(ch.messages))
	for i, m := range ch.messages {
		out[i] = *m
	}
	return out, nil
}

func (f *Fake) DirectChannel(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.dms[userID]; ok {
		return id, nil
	}
	id := "dm-" + userID
	f.dms[userID] = id
	f.channels[id] = &channel{info: platform.Channel{ID: id}, overwrites: map[string]platform.Overwrite{}, pins: map[string]bool{}}
	return id, nil
}

func (f *Fake) CreateThread(_ context.Context, parentID, name string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateThread:" + name)
	if err := f.failure("CreateThread"); err != nil {
		return platform.Channel{}, err
	}
	parent, err := f.live(parentID)
	if err != nil {
		return platform.Channel{}, err
	}
	th := &channel{
		info:       platform.Channel{ID: f.nextID("t"), GuildID: parent.info.GuildID, Name: name, ParentID: parentID},
		overwrites: map[string]platform.Overwrite{},
		pins:       map[string]bool{},
		thread:     true,
	}
	f.channels[th.info.ID] = th
	parent.messages = append(parent.messages, &platform.Message{
		ID: f.nextID("m"), ChannelID: parentID, GuildID: parent.info.GuildID,
		AuthorID: BotID, AuthorBot: true, Content: name, Kind: platform.KindThreadCreated, CreatedAt: f.tick(),
	})
	return th.info, nil
}

func (f *Fake) MakeThreadPrivate(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MakeThreadPrivate:" + threadID)
	ch, err := f.live(threadID)
	if err != nil {
		return err
	}
	ch.private = true
	return nil
}

func (f *Fake) ArchiveThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ArchiveThread:" + threadID)
	ch, err := f.live(threadID)
	if err != nil {
		return err
	}
	ch.archived = true
	return nil
}

func (f *Fake) User(_ context.Context, userID string) (platform.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return platform.User{}, fmt.Errorf("user %s: %w", userID, errs.ErrNotFound)
	}
	return u, nil
}

func (f *Fake) MemberRoles(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.roles[userID]...), nil
}

func (f *Fake) Respond(_ context.Context, in platform.Interaction, resp platform.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses = append(f.Responses, Responded{Interaction: in, Response: resp})
	return nil
}

func (f *Fake) FollowUp(_ context.Context, in platform.Interaction, resp platform.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses = append(f.Responses, Responded{Interaction: in, Response: resp, FollowUp: true})
	return nil
}

// Inspection helpers.

func (f *Fake) Messages(channelID string) []platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil
	}
	out := make([]platform.Message, len(ch.messages))
	for i, m := range ch.messages {
		out[i] = *m
	}
	return out
}

func (f *Fake) Message(channelID, messageID string) (platform.Message, bool) {
	for _, m := range f.Messages(channelID) {
		if m.ID == messageID {
			return m, true
		}
	}
	return platform.Message{}, false
}

func (f *Fake) ChannelInfo(id string) (platform.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok || ch.deleted {
		return platform.Channel{}, false
	}
	return ch.info, true
}

func (f *Fake) Exists(id string) bool {
	_, ok := f.ChannelInfo(id)
	return ok
}

func (f *Fake) Overwrites(id string) map[string]platform.Overwrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]platform.Overwrite{}
	if ch, ok := f.channels[id]; ok {
		for k, v := range ch.overwrites {
			out[k] = v
		}
	}
	return out
}

func (f *Fake) ThreadState(id string) (private, archived bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := f.channels[id]
	if ch == nil {
		return false, false
	}
	return ch.private, ch.archived
}

// ChannelByName finds a live guild channel by name.
func (f *Fake) ChannelByName(name string) (platform.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if !ch.deleted && ch.info.Name == name {
			return ch.info, true
		}
	}
	return platform.Channel{}, false
}

// CallIndex returns the position of the first recorded call with prefix, or -1.
func (f *Fake) CallIndex(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

// DMChannelID returns the private channel id used for userID, if one was opened.
func (f *Fake) DMChannelID(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dms[userID]
}

func (f *Fake) LastResponse() (Responded, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Responses) == 0 {
		return Responded{}, false
	}
	return f.Responses[len(f.Responses)-1], true
}

var _ platform.Client = (*Fake)(nil)

package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/platform/platformtest"
	"github.com/psds-microservice/support-bot/internal/store"
)

const limit = 10

type env struct {
	ctx   context.Context
	fake  *platformtest.Fake
	kv    *store.Memory
	relay *Relay
	dm    string
	ch    platform.Channel
}

func newEnv(t *testing.T, chunkLimit int) *env {
	t.Helper()
	types, err := config.ParseTicketTypes([]byte(`
types:
  - name: General
    category_id: cat-general
    questions: ["q"]
  - name: Named
    category_id: cat-named
    anonymous_by_default: false
    questions: ["q"]
`))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	fake := platformtest.New()
	fake.AddUser(platform.User{ID: "u1", Name: "alice", AvatarURL: "https://cdn.example/alice.png"})
	fake.AddUser(platform.User{ID: "staff1", Name: "bob"}, "support")
	ch := platform.Channel{ID: "t1", GuildID: "guild", Name: "general-0001", Topic: "u1", ParentID: "cat-general"}
	fake.AddChannel(ch)
	dm, _ := fake.DirectChannel(ctx, "u1")
	kv := store.NewMemory()
	r := New(fake, kv, types, Options{ChunkLimit: chunkLimit, AllowedExtensions: []string{"png", ".TXT"}})
	return &env{ctx: ctx, fake: fake, kv: kv, relay: r, dm: dm, ch: ch}
}

// mirrored returns the webhook messages in the ticket channel.
func (e *env) mirrored() []platform.Message {
	var out []platform.Message
	for _, m := range e.fake.Messages(e.ch.ID) {
		if m.WebhookID != "" {
			out = append(out, m)
		}
	}
	return out
}

func joined(msgs []platform.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
	}
	return b.String()
}

func TestChunk(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 11, 25, 30} {
		text := strings.Repeat("ж", n)
		chunks := Chunk(text, limit)
		if want := (n + limit - 1) / limit; len(chunks) != want {
			t.Fatalf("len %d: %d chunks, want %d", n, len(chunks), want)
		}
		if strings.Join(chunks, "") != text {
			t.Fatalf("len %d: concatenation differs", n)
		}
		for _, c := range chunks {
			if len([]rune(c)) > limit {
				t.Fatalf("chunk over limit: %d", len([]rune(c)))
			}
		}
	}
}

func TestParseReplyMode(t *testing.T) {
	tests := []struct {
		in       string
		def      bool
		wantAnon bool
		wantText string
	}{
		{"hello", true, true, "hello"},
		{"hello", false, false, "hello"},
		{"!self hi", true, false, "hi"},
		{"!anon hi", false, true, "hi"},
		{"!selfish", true, true, "!selfish"},
	}
	for _, tc := range tests {
		anon, text := ParseReplyMode(tc.in, tc.def)
		if anon != tc.wantAnon || text != tc.wantText {
			t.Errorf("ParseReplyMode(%q, %v) = %v %q", tc.in, tc.def, anon, text)
		}
	}
	if !IsNote("// internal") || IsNote("not // a note") {
		t.Error("IsNote")
	}
}

func TestRequesterRoundTripAndEdit(t *testing.T) {
	e := newEnv(t, limit)
	text := strings.Repeat("abcdefghij", 4) + "xyz"
	src := e.fake.Post(e.dm, "u1", text)
	if err := e.relay.FromRequester(e.ctx, src); err != nil {
		t.Fatal(err)
	}
	first := e.mirrored()
	if len(first) != 5 || joined(first) != text {
		t.Fatalf("mirrored %d messages: %q", len(first), joined(first))
	}
	if first[0].AuthorName != "alice" || first[0].AuthorAvatar == "" {
		t.Fatalf("not attributed to requester: %+v", first[0])
	}

	edited := e.fake.EditPosted(e.dm, src.ID, strings.Repeat("k", 15))
	if err := e.relay.Edited(e.ctx, edited); err != nil {
		t.Fatal(err)
	}
	after := e.mirrored()
	if len(after) != 2 || joined(after) != edited.Content {
		t.Fatalf("after edit %d messages: %q", len(after), joined(after))
	}
	for _, old := range first {
		if _, ok := e.fake.Message(e.ch.ID, old.ID); ok {
			t.Fatalf("old mirror %s still exists", old.ID)
		}
	}
	var m model.DMToStaff
	if err := e.kv.Get(e.ctx, store.DMToStaffKey(src.ID), &m); err != nil || len(m.TextMsgIDs) != 2 || m.Shape != model.ShapeChunks {
		t.Fatalf("mapping = %+v %v", m, err)
	}
}

func TestCombinedEditKeepsFiles(t *testing.T) {
	e := newEnv(t, limit)
	src := e.fake.Post(e.dm, "u1", "short", platform.Attachment{Filename: "a.png", URL: "https://cdn.example/a.png"})
	if err := e.relay.FromRequester(e.ctx, src); err != nil {
		t.Fatal(err)
	}
	var m model.DMToStaff
	_ = e.kv.Get(e.ctx, store.DMToStaffKey(src.ID), &m)
	if m.Shape != model.ShapeCombined || m.CombinedMsgID == "" {
		t.Fatalf("mapping = %+v", m)
	}

	edited := e.fake.EditPosted(e.dm, src.ID, "0123456789abc")
	if err := e.relay.Edited(e.ctx, edited); err != nil {
		t.Fatal(err)
	}
	combined, ok := e.fake.Message(e.ch.ID, m.CombinedMsgID)
	if !ok || combined.Content != "0123456789" || len(combined.Attachments) != 1 {
		t.Fatalf("combined = %+v %v", combined, ok)
	}
	if got := e.mirrored(); len(got) != 2 || got[1].Content != "abc" {
		t.Fatalf("mirrors = %+v", got)
	}
}

func TestLongTextWithFilesAndFilesOnlyEdit(t *testing.T) {
	e := newEnv(t, limit)
	att := platform.Attachment{Filename: "log.txt", URL: "https://cdn.example/log.txt"}
	src := e.fake.Post(e.dm, "u1", strings.Repeat("x", 12), att)
	if err := e.relay.FromRequester(e.ctx, src); err != nil {
		t.Fatal(err)
	}
	var m model.DMToStaff
	_ = e.kv.Get(e.ctx, store.DMToStaffKey(src.ID), &m)
	if m.Shape != model.ShapeChunks || m.FilesMsgID == "" || len(m.TextMsgIDs) != 2 {
		t.Fatalf("mapping = %+v", m)
	}
	edited := e.fake.EditPosted(e.dm, src.ID, "y")
	if err := e.relay.Edited(e.ctx, edited); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.fake.Message(e.ch.ID, m.FilesMsgID); !ok {
		t.Fatal("files message deleted by edit")
	}

	filesOnly := e.fake.Post(e.dm, "u1", "", att)
	if err := e.relay.FromRequester(e.ctx, filesOnly); err != nil {
		t.Fatal(err)
	}
	before := len(e.fake.Calls)
	if err := e.relay.Edited(e.ctx, e.fake.EditPosted(e.dm, filesOnly.ID, "now with text")); err != nil {
		t.Fatal(err)
	}
	if len(e.fake.Calls) != before {
		t.Fatalf("files-only edit touched the mirror: %v", e.fake.Calls[before:])
	}
}

func TestAttachmentGatingIsAllOrNothing(t *testing.T) {
	e := newEnv(t, limit)
	src := e.fake.Post(e.dm, "u1", "see files",
		platform.Attachment{Filename: "ok.png", URL: "u1"},
		platform.Attachment{Filename: "virus.exe", URL: "u2"})
	if err := e.relay.FromRequester(e.ctx, src); !errors.Is(err, errs.ErrDisallowedAttachment) {
		t.Fatalf("err = %v", err)
	}
	if e.fake.CallIndex("SendAs:") >= 0 || len(e.mirrored()) != 0 {
		t.Fatal("something was forwarded")
	}
	if err := ValidateAttachments([]platform.Attachment{{Filename: "noext"}}, []string{"png"}); !errors.Is(err, errs.ErrDisallowedAttachment) {
		t.Fatalf("no extension: %v", err)
	}
	if err := ValidateAttachments([]platform.Attachment{{Filename: "A.PNG"}}, []string{".png"}); err != nil {
		t.Fatalf("case: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	e := newEnv(t, limit)
	src := e.fake.Post(e.dm, "u1", strings.Repeat("z", 25))
	if err := e.relay.FromRequester(e.ctx, src); err != nil {
		t.Fatal(err)
	}
	// One mirror is already gone.
	_ = e.fake.DeleteMessage(e.ctx, e.ch.ID, e.mirrored()[0].ID)

	for i := 0; i < 2; i++ {
		if err := e.relay.Deleted(e.ctx, src.ID); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
	if n := len(e.mirrored()); n != 0 {
		t.Fatalf("%d mirrors left", n)
	}
	if err := e.kv.Get(e.ctx, store.DMToStaffKey(src.ID), &model.DMToStaff{}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("mapping left: %v", err)
	}
	if err := e.relay.Deleted(e.ctx, "never-relayed"); err != nil {
		t.Fatal(err)
	}
}

// deleteMidSend runs onSend once, right after the first webhook send completes.
type deleteMidSend struct {
	*platformtest.Fake
	once   sync.Once
	onSend func()
}

func (c *deleteMidSend) SendAs(ctx context.Context, channelID string, as platform.Identity, out platform.Outgoing) (platform.Message, error) {
	msg, err := c.Fake.SendAs(ctx, channelID, as, out)
	if c.onSend != nil {
		c.once.Do(c.onSend)
	}
	return msg, err
}

func TestDeleteDuringEditLeavesNothing(t *testing.T) {
	e := newEnv(t, limit)
	src := e.fake.Post(e.dm, "u1", strings.Repeat("z", 25))
	if err := e.relay.FromRequester(e.ctx, src); err != nil {
		t.Fatal(err)
	}

	client := &deleteMidSend{Fake: e.fake}
	r := New(client, e.kv, nil, Options{ChunkLimit: limit})
	client.onSend = func() {
		if err := r.Deleted(e.ctx, src.ID); err != nil {
			t.Errorf("delete: %v", err)
		}
	}
	edited := e.fake.EditPosted(e.dm, src.ID, strings.Repeat("k", 15))
	if err := r.Edited(e.ctx, edited); err != nil {
		t.Fatal(err)
	}

	if n := len(e.mirrored()); n != 0 {
		t.Fatalf("%d mirrors left for a deleted source", n)
	}
	if err := e.kv.Get(e.ctx, store.DMToStaffKey(src.ID), &model.DMToStaff{}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("mapping revived: %v", err)
	}
}

func TestRequesterWithoutTicket(t *testing.T) {
	e := newEnv(t, limit)
	e.fake.AddUser(platform.User{ID: "u2", Name: "carol"})
	dm, _ := e.fake.DirectChannel(e.ctx, "u2")
	src := e.fake.Post(dm, "u2", "hello?")
	if err := e.relay.FromRequester(e.ctx, src); !errors.Is(err, errs.ErrTicketNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestStaffReplies(t *testing.T) {
	e := newEnv(t, config.MaxChunkLimit)

	anon := e.fake.Post(e.ch.ID, "staff1", "we are looking")
	if err := e.relay.FromStaff(e.ctx, e.ch, anon); err != nil {
		t.Fatal(err)
	}
	self := e.fake.Post(e.ch.ID, "staff1", "!self hi")
	if err := e.relay.FromStaff(e.ctx, e.ch, self); err != nil {
		t.Fatal(err)
	}
	note := e.fake.Post(e.ch.ID, "staff1", "// looks like spam")
	if err := e.relay.FromStaff(e.ctx, e.ch, note); err != nil {
		t.Fatal(err)
	}

	dms := e.fake.Messages(e.dm)
	if len(dms) != 2 {
		t.Fatalf("dm messages = %+v", dms)
	}
	if dms[0].Content != "**Support Team:**\nwe are looking" || dms[1].Content != "**bob:**\nhi" {
		t.Fatalf("contents %q / %q", dms[0].Content, dms[1].Content)
	}
	var rec model.StaffToDM
	if err := e.kv.Get(e.ctx, store.StaffToDMKey(self.ID), &rec); err != nil || rec.Anonymous || rec.AuthorID != "staff1" {
		t.Fatalf("record = %+v %v", rec, err)
	}
	if err := e.kv.Get(e.ctx, store.StaffToDMKey(note.ID), &model.StaffToDM{}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatal("note was mapped")
	}

	edited := e.fake.EditPosted(e.ch.ID, anon.ID, "fixed")
	if err := e.relay.Edited(e.ctx, edited); err != nil {
		t.Fatal(err)
	}
	dms = e.fake.Messages(e.dm)
	if dms[len(dms)-1].Content != "**Support Team:**\nfixed" {
		t.Fatalf("after edit %+v", dms)
	}
}

func TestStaffDefaultIdentityFollowsType(t *testing.T) {
	e := newEnv(t, config.MaxChunkLimit)
	named := platform.Channel{ID: "t2", GuildID: "guild", Name: "named-0002", Topic: "u1", ParentID: "cat-named"}
	e.fake.AddChannel(named)
	msg := e.fake.Post(named.ID, "staff1", "hello")
	if err := e.relay.FromStaff(e.ctx, named, msg); err != nil {
		t.Fatal(err)
	}
	dms := e.fake.Messages(e.dm)
	if dms[len(dms)-1].Content != "**bob:**\nhello" {
		t.Fatalf("dm = %q", dms[len(dms)-1].Content)
	}
}

func TestStaffReplyRefused(t *testing.T) {
	e := newEnv(t, config.MaxChunkLimit)
	e.fake.RefuseDMs("u1")
	msg := e.fake.Post(e.ch.ID, "staff1", "hello")
	err := e.relay.FromStaff(e.ctx, e.ch, msg)
	if !errors.Is(err, errs.ErrDeliveryRefused) || errs.Classify(err) != errs.ClassDelivery {
		t.Fatalf("err = %v", err)
	}
	if err := e.kv.Get(e.ctx, store.StaffToDMKey(msg.ID), &model.StaffToDM{}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatal("refused reply was mapped")
	}
}

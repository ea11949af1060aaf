package closure

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/platform/platformtest"
	"github.com/psds-microservice/support-bot/internal/relay"
	"github.com/psds-microservice/support-bot/internal/store"
	"github.com/psds-microservice/support-bot/internal/ticket"
	"github.com/psds-microservice/support-bot/internal/transcript"
)

const typesYAML = `
types:
  - name: General
    category_id: cat-general
    log_channel_id: log
    access_roles: [support]
    staff_thread: true
    questions: ["What do you need?"]
`

type memSaver struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (s *memSaver) Save(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.files[name] = data
	return name, nil
}

type scheduled struct {
	delay time.Duration
	fn    func()
}

type env struct {
	ctx    context.Context
	fake   *platformtest.Fake
	kv     *store.Memory
	reg    *ticket.Registry
	relay  *relay.Relay
	saver  *memSaver
	pipe   *Pipeline
	timers []scheduled
	opened *ticket.Opened
	dm     string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	types, err := config.ParseTicketTypes([]byte(typesYAML))
	if err != nil {
		t.Fatal(err)
	}
	e := &env{ctx: context.Background(), fake: platformtest.New(), kv: store.NewMemory(), saver: &memSaver{files: map[string][]byte{}}}
	e.fake.AddUser(platform.User{ID: "u1", Name: "alice"})
	e.fake.AddUser(platform.User{ID: "staff1", Name: "bob"}, "support")
	e.fake.AddChannel(platform.Channel{ID: "log", GuildID: "guild", Name: "ticket-logs"})
	e.reg = ticket.NewRegistry(e.kv)
	e.relay = relay.New(e.fake, e.kv, types, relay.Options{ChunkLimit: 2000})
	e.pipe = New(e.fake, e.kv, types, e.reg, transcript.NewRenderer(), e.saver, Options{
		GraceDelay:        time.Second,
		TranscriptBaseURL: "https://t.example/",
	}).WithScheduler(func(d time.Duration, fn func()) {
		e.timers = append(e.timers, scheduled{d, fn})
	})

	tk, err := e.reg.Create(e.ctx, "General", "u1", "", "**What do you need?**\nhelp\n\n")
	if err != nil {
		t.Fatal(err)
	}
	prov := ticket.NewProvisioner(e.fake, types, e.reg, e.kv, "guild", "admin")
	if e.opened, err = prov.Open(e.ctx, tk, []ticket.Answer{{Question: "What do you need?", Answer: "help"}}); err != nil {
		t.Fatal(err)
	}
	e.dm, _ = e.fake.DirectChannel(e.ctx, "u1")
	return e
}

func (e *env) converse(t *testing.T) {
	t.Helper()
	ch, _ := e.fake.ChannelInfo(e.opened.Channel.ID)
	if err := e.relay.FromRequester(e.ctx, e.fake.Post(e.dm, "u1", "my printer is on fire")); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"have you tried water", "!self this is bob", "// internal note: escalate"} {
		if err := e.relay.FromStaff(e.ctx, ch, e.fake.Post(ch.ID, "staff1", text)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCloseProducesTranscriptsAndCleansUp(t *testing.T) {
	e := newEnv(t)
	e.converse(t)
	chID := e.opened.Channel.ID
	if err := e.kv.Set(e.ctx, store.ClaimKey(chID), model.Claim{UserID: "staff1"}); err != nil {
		t.Fatal(err)
	}

	res, err := e.pipe.Close(e.ctx, chID, "staff1", "resolved")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("failed steps: %v", res.Failed)
	}
	if res.FullFile != "general-0001.html" || res.UserFile != "general-0001-user.html" {
		t.Fatalf("files = %s %s", res.FullFile, res.UserFile)
	}
	if res.TranscriptRef != "https://t.example/general-0001-user.html" {
		t.Fatalf("ref = %s", res.TranscriptRef)
	}

	full := string(e.saver.files[res.FullFile])
	user := string(e.saver.files[res.UserFile])
	for _, want := range []string{"my printer is on fire", "internal note", "relayed to the requester", "bob"} {
		if !strings.Contains(full, want) {
			t.Errorf("full transcript lacks %q", want)
		}
	}
	for _, want := range []string{"my printer is on fire", "have you tried water", "this is bob", relay.AnonymousName, "General #0001"} {
		if !strings.Contains(user, want) {
			t.Errorf("user transcript lacks %q", want)
		}
	}
	for _, banned := range []string{"internal note", "relayed to the requester", "staff-0001", "!self", "closed by", "Closed by", "staff1"} {
		if strings.Contains(user, banned) {
			t.Errorf("user transcript contains %q", banned)
		}
	}

	rec, _ := e.reg.Get(e.ctx, "u1", "0001")
	if !rec.Closed() || rec.CloseUser != "staff1" || rec.CloseReason != "resolved" || rec.CloseTime == nil || rec.TranscriptRef != res.TranscriptRef {
		t.Fatalf("record = %+v", rec)
	}

	dms := e.fake.Messages(e.dm)
	last := dms[len(dms)-1].Content
	if !strings.Contains(last, "resolved") || !strings.Contains(last, res.TranscriptRef) {
		t.Fatalf("requester dm = %q", last)
	}
	logs := e.fake.Messages("log")
	if len(logs) != 1 || logs[0].Embeds[0].Title != "General #0001" {
		t.Fatalf("log channel = %+v", logs)
	}
	pinned, _ := e.fake.Pinned(e.ctx, chID)
	if h, summary, err := ticket.FindSummary(pinned); err != nil || h.Number != "0001" || !hasField(summary, "Reason", "resolved") {
		t.Fatalf("summary after close: %+v %v", summary, err)
	}
	if _, archived := e.fake.ThreadState(e.opened.ThreadID); !archived {
		t.Error("staff thread not archived")
	}
	if err := e.kv.Get(e.ctx, store.ClaimKey(chID), &model.Claim{}); !errors.Is(err, errs.ErrNotFound) {
		t.Error("claim not removed")
	}

	if len(e.timers) != 1 || e.timers[0].delay != time.Second {
		t.Fatalf("timers = %+v", e.timers)
	}
	if !e.fake.Exists(chID) {
		t.Fatal("channel deleted before the grace delay")
	}
	e.timers[0].fn()
	if e.fake.Exists(chID) {
		t.Fatal("channel still exists")
	}
}

func TestSignedTranscriptRef(t *testing.T) {
	e := newEnv(t)
	key := []byte("k")
	e.pipe.opts.TranscriptKey = key

	res, err := e.pipe.Close(e.ctx, e.opened.Channel.ID, "staff1", "done")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://t.example/general-0001-user.html?token=" + transcript.Sign(key, "general-0001-user.html")
	if res.TranscriptRef != want {
		t.Fatalf("ref = %s", res.TranscriptRef)
	}
	if !transcript.Verify(key, res.UserFile, strings.TrimPrefix(res.TranscriptRef, "https://t.example/general-0001-user.html?token=")) {
		t.Fatal("ref token does not verify")
	}
}

func TestCloseIsFailOpen(t *testing.T) {
	e := newEnv(t)
	e.saver.err = errors.New("disk full")
	e.fake.RefuseDMs("u1")
	e.fake.Fail("EditMessage", errs.ErrForbidden)

	res, err := e.pipe.Close(e.ctx, e.opened.Channel.ID, "staff1", "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"summary edit", "full transcript", "user transcript", "notify requester"}
	if strings.Join(res.Failed, ",") != strings.Join(want, ",") {
		t.Fatalf("failed = %v", res.Failed)
	}
	if res.Reason != defaultReason {
		t.Fatalf("reason = %q", res.Reason)
	}
	rec, _ := e.reg.Get(e.ctx, "u1", "0001")
	if !rec.Closed() || rec.TranscriptRef != "" {
		t.Fatalf("record = %+v", rec)
	}
	if len(e.timers) != 1 {
		t.Fatal("deletion not scheduled")
	}
}

func TestCloseWithoutSummaryIsFatal(t *testing.T) {
	e := newEnv(t)
	e.fake.AddChannel(platform.Channel{ID: "plain", GuildID: "guild", Name: "chat"})
	if _, err := e.pipe.Close(e.ctx, "plain", "staff1", "x"); !errors.Is(err, errs.ErrSummaryMissing) {
		t.Fatalf("err = %v", err)
	}
	if len(e.timers) != 0 || !e.fake.Exists("plain") {
		t.Fatal("channel scheduled for deletion")
	}
}

func hasField(m platform.Message, name, value string) bool {
	for _, e := range m.Embeds {
		for _, f := range e.Fields {
			if f.Name == name && f.Value == value {
				return true
			}
		}
	}
	return false
}

package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/platform/platformtest"
)

const typesYAML = `
types:
  - name: General
    category_id: cat-general
    access_roles: [support]
    questions: ["What do you need?", "Anything else?"]
  - name: Appeal
    category_id: cat-appeal
    access_roles: [mods]
    requires_region: true
    questions: ["How old are you?"]
    age_gate:
      question: 0
      min_age: 18
      deny_message: "Appeals are for adults only."
regions:
  - label: Europe
    value: eu
`

type harness struct {
	fake     *platformtest.Fake
	runner   *Runner
	coll     *Collector
	sessions *Sessions
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	types, err := config.ParseTicketTypes([]byte(typesYAML))
	if err != nil {
		t.Fatal(err)
	}
	fake := platformtest.New()
	fake.AddUser(platform.User{ID: "u1", Name: "alice"})
	coll := NewCollector()
	sessions := NewSessions()
	runner := NewRunner(fake, types, coll, sessions, Options{
		QuestionTimeout: timeout,
		RetryAttempts:   3,
		RetryBackoff:    time.Millisecond,
		CancelKeyword:   "cancel",
	})
	return &harness{fake: fake, runner: runner, coll: coll, sessions: sessions}
}

type outcome struct {
	res *Result
	err error
}

func (h *harness) start(typeName string) <-chan outcome {
	done := make(chan outcome, 1)
	go func() {
		res, err := h.runner.Run(context.Background(), "u1", typeName)
		done <- outcome{res, err}
	}()
	return done
}

// say delivers a DM from u1 once the session is waiting for one.
func (h *harness) say(t *testing.T, content string, attachments ...platform.Attachment) {
	t.Helper()
	msg := platform.Message{AuthorID: "u1", ChannelID: "dm-u1", Content: content, Attachments: attachments}
	waitFor(t, func() bool { return h.coll.Offer(msg) })
}

func (h *harness) choose(t *testing.T, value string) {
	t.Helper()
	waitFor(t, func() bool { return h.coll.OfferChoice("u1", "dm-u1", value) })
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !fn() {
		if time.Now().After(deadline) {
			t.Fatal("no session waiting")
		}
		time.Sleep(time.Millisecond)
	}
}

func wait(t *testing.T, done <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-done:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("intake did not finish")
		return outcome{}
	}
}

func TestRunCollectsAnswers(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	done := h.start("general")
	h.say(t, "a")
	h.say(t, "b", platform.Attachment{Filename: "x.png", URL: "https://cdn.example/x.png"})
	o := wait(t, done)
	if o.err != nil {
		t.Fatal(o.err)
	}
	want := "**What do you need?**\na\n\n**Anything else?**\nb\nhttps://cdn.example/x.png\n\n"
	if got := o.res.Responses(); got != want {
		t.Fatalf("responses = %q", got)
	}
	if o.res.Type != "General" || o.res.Region != "" || o.res.DMChannelID != "dm-u1" {
		t.Fatalf("result = %+v", o.res)
	}
	msgs := h.fake.Messages("dm-u1")
	if len(msgs) != 4 || msgs[0].Content != divider {
		t.Fatalf("dm messages = %+v", msgs)
	}
	if h.sessions.Active("u1") {
		t.Fatal("session not released")
	}
}

func TestRunCancel(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	done := h.start("General")
	h.say(t, "  CANCEL ")
	o := wait(t, done)
	if !errors.Is(o.err, errs.ErrIntakeCancelled) {
		t.Fatalf("err = %v", o.err)
	}
	msgs := h.fake.Messages("dm-u1")
	if last := msgs[len(msgs)-1].Content; last != errs.UserMessage(errs.ErrIntakeCancelled) {
		t.Fatalf("last dm = %q", last)
	}
	if h.sessions.Active("u1") {
		t.Fatal("session not released")
	}
}

func TestRunTimeout(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	o := wait(t, h.start("General"))
	if !errors.Is(o.err, errs.ErrIntakeTimeout) {
		t.Fatalf("err = %v", o.err)
	}
	if h.sessions.Active("u1") {
		t.Fatal("session not released")
	}
}

func TestRunRetriesRefusedDelivery(t *testing.T) {
	h := newHarness(t, time.Second)
	h.fake.RefuseDMs("u1")
	o := wait(t, h.start("General"))
	if !errors.Is(o.err, errs.ErrDeliveryRefused) {
		t.Fatalf("err = %v", o.err)
	}
	if got := h.fake.DMAttempts["u1"]; got != 3 {
		t.Fatalf("attempts = %d", got)
	}
	if h.sessions.Active("u1") {
		t.Fatal("session not released")
	}
}

func TestRunRegionAndAgeGate(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	done := h.start("Appeal")
	h.say(t, "europe please")
	h.choose(t, "mars")
	h.choose(t, "eu")
	h.say(t, "15")
	o := wait(t, done)
	var denied *errs.DeniedError
	if !errors.As(o.err, &denied) || denied.Reason != "Appeals are for adults only." {
		t.Fatalf("err = %v", o.err)
	}

	done = h.start("Appeal")
	h.choose(t, "eu")
	h.say(t, "30")
	o = wait(t, done)
	if o.err != nil || o.res.Region != "eu" || o.res.Answers[0].Answer != "30" {
		t.Fatalf("outcome = %+v %v", o.res, o.err)
	}
}

func TestRunRefusesConcurrentAndOpenTickets(t *testing.T) {
	h := newHarness(t, time.Second)
	release, err := h.sessions.Acquire("u1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.runner.Run(context.Background(), "u1", "General"); !errors.Is(err, errs.ErrSessionActive) {
		t.Fatalf("err = %v", err)
	}
	release()
	release()

	h.fake.AddChannel(platform.Channel{ID: "c1", GuildID: "guild", Name: "general-0001", Topic: "u1"})
	if _, err := h.runner.Run(context.Background(), "u1", "General"); !errors.Is(err, errs.ErrTicketOpen) {
		t.Fatalf("err = %v", err)
	}
	if h.sessions.Active("u1") {
		t.Fatal("session not released")
	}
	if _, err := h.runner.Run(context.Background(), "u1", "Nope"); !errors.Is(err, errs.ErrUnknownTicketType) {
		t.Fatalf("err = %v", err)
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	if c.Offer(platform.Message{AuthorID: "u", ChannelID: "dm"}) {
		t.Fatal("offer without waiter consumed")
	}
	if _, err := c.Await(context.Background(), "u", "dm", 5*time.Millisecond); !errors.Is(err, errs.ErrIntakeTimeout) {
		t.Fatalf("err = %v", err)
	}
	if c.Waiting("u", "dm") {
		t.Fatal("waiter left behind after timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Await(ctx, "u", "dm", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}

	got := make(chan Reply, 1)
	go func() {
		r, _ := c.Await(context.Background(), "u", "dm", time.Second)
		got <- r
	}()
	waitFor(t, func() bool { return c.Waiting("u", "dm") })
	if c.Offer(platform.Message{AuthorID: "other", ChannelID: "dm"}) {
		t.Fatal("message from another user consumed")
	}
	if !c.Offer(platform.Message{AuthorID: "u", ChannelID: "dm", Content: "hi"}) {
		t.Fatal("offer not consumed")
	}
	if r := <-got; r.Message.Content != "hi" {
		t.Fatalf("reply = %+v", r)
	}
}

func TestAgeGatePolicy(t *testing.T) {
	tt := &config.TicketType{AgeGate: &config.AgeGate{Question: 1, MinAge: 13, DenyMessage: "no"}}
	tests := []struct {
		index  int
		answer string
		deny   bool
	}{
		{1, "12", true},
		{1, " 13 ", false},
		{1, "twelve", false},
		{0, "5", false},
	}
	for _, tc := range tests {
		err := AgeGate(tt, tc.index, tc.answer)
		if (err != nil) != tc.deny {
			t.Errorf("AgeGate(%d, %q) = %v", tc.index, tc.answer, err)
		}
	}
	if err := AgeGate(&config.TicketType{}, 0, "1"); err != nil {
		t.Errorf("no gate: %v", err)
	}
}

// Package intake runs the private question-and-answer exchange that precedes a ticket.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/ticket"
)

// Component ids the dispatcher routes back to the collector.
const (
	TypeSelectID   = "intake:type"
	RegionSelectID = "intake:region"
)

const divider = "━━━━━━━━━━━━━━━━━━━━"

type Options struct {
	QuestionTimeout time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	CancelKeyword   string
}

func (o Options) withDefaults() Options {
	if o.QuestionTimeout <= 0 {
		o.QuestionTimeout = 10 * time.Minute
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.CancelKeyword == "" {
		o.CancelKeyword = "cancel"
	}
	return o
}

// Result is a completed intake.
type Result struct {
	Type        string
	Region      string
	DMChannelID string
	Answers     []ticket.Answer
}

// Responses formats the answers as the stored response bundle.
func (r *Result) Responses() string {
	var b strings.Builder
	for _, a := range r.Answers {
		fmt.Fprintf(&b, "**%s**\n%s\n\n", a.Question, a.Answer)
	}
	return b.String()
}

// Runner drives intake sessions. One Runner serves every user; per-user state lives
// in the Sessions guard and the Collector.
type Runner struct {
	client    platform.Client
	types     *config.TicketTypes
	collector *Collector
	sessions  *Sessions
	opts      Options
	policies  []Policy
}

func NewRunner(client platform.Client, types *config.TicketTypes, collector *Collector, sessions *Sessions, opts Options, policies ...Policy) *Runner {
	if len(policies) == 0 {
		policies = []Policy{AgeGate}
	}
	return &Runner{
		client:    client,
		types:     types,
		collector: collector,
		sessions:  sessions,
		opts:      opts.withDefaults(),
		policies:  policies,
	}
}

// TypeSelect is the picker offered to a requester without an open ticket.
func (r *Runner) TypeSelect() *platform.Select {
	s := &platform.Select{CustomID: TypeSelectID, Placeholder: "What do you need help with?"}
	for _, name := range r.types.Names() {
		s.Options = append(s.Options, platform.SelectOption{Label: name, Value: name})
	}
	return s
}

// Run performs the intake for userID and typeName. It returns errs.ErrTicketOpen when the
// user already has a ticket channel and errs.ErrSessionActive when another intake for
// the user is running. Cancellation, timeout, refused delivery and policy denial all
// end the session without a ticket.
func (r *Runner) Run(ctx context.Context, userID, typeName string) (*Result, error) {
	tt, ok := r.types.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("intake: %q: %w", typeName, errs.ErrUnknownTicketType)
	}
	release, err := r.sessions.Acquire(userID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, open, err := r.client.FindChannelByTopic(ctx, userID); err != nil {
		return nil, fmt.Errorf("intake: look up open ticket: %w", err)
	} else if open {
		return nil, fmt.Errorf("intake for %s: %w", userID, errs.ErrTicketOpen)
	}

	dm, err := r.client.DirectChannel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("intake: open dm: %w", err)
	}
	if err := r.sendFirst(ctx, dm, platform.Outgoing{Content: divider}); err != nil {
		return nil, fmt.Errorf("intake: first message: %w", err)
	}
	if err := r.send(ctx, dm, r.welcome(tt)); err != nil {
		return nil, err
	}

	res := &Result{Type: tt.Name, DMChannelID: dm}
	if tt.RequiresRegion {
		region, err := r.askRegion(ctx, userID, dm)
		if err != nil {
			r.farewell(ctx, dm, err)
			return nil, err
		}
		res.Region = region
	}

	for i, q := range tt.Questions {
		if err := r.send(ctx, dm, fmt.Sprintf("**Question %d/%d**\n%s", i+1, len(tt.Questions), q)); err != nil {
			return nil, err
		}
		answer, err := r.awaitAnswer(ctx, userID, dm)
		if err == nil {
			err = r.check(tt, i, answer)
		}
		if err != nil {
			r.farewell(ctx, dm, err)
			return nil, err
		}
		res.Answers = append(res.Answers, ticket.Answer{Question: q, Answer: answer})
	}
	return res, nil
}

// sendFirst retries the opening message while the platform refuses delivery; the user
// may be adjusting their privacy settings.
func (r *Runner) sendFirst(ctx context.Context, dm string, out platform.Outgoing) error {
	b := retry.WithMaxRetries(uint64(r.opts.RetryAttempts-1), retry.NewConstant(r.opts.RetryBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		_, err := r.client.Send(ctx, dm, out)
		if errors.Is(err, errs.ErrDeliveryRefused) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *Runner) send(ctx context.Context, dm, content string) error {
	if _, err := r.client.Send(ctx, dm, platform.Outgoing{Content: content}); err != nil {
		return fmt.Errorf("intake: send: %w", err)
	}
	return nil
}

func (r *Runner) welcome(tt *config.TicketType) string {
	if tt.WelcomeMessage != "" {
		return tt.WelcomeMessage
	}
	return fmt.Sprintf("**%s ticket**\nPlease answer the questions below. Type `%s` at any time to stop.", tt.Name, r.opts.CancelKeyword)
}

func (r *Runner) askRegion(ctx context.Context, userID, dm string) (string, error) {
	sel := &platform.Select{CustomID: RegionSelectID, Placeholder: "Select your region"}
	for _, reg := range r.types.Regions {
		sel.Options = append(sel.Options, platform.SelectOption{Label: reg.Label, Value: reg.Value})
	}
	if _, err := r.client.Send(ctx, dm, platform.Outgoing{Content: "Which region is this about?", Select: sel}); err != nil {
		return "", fmt.Errorf("intake: region prompt: %w", err)
	}
	for {
		reply, err := r.collector.Await(ctx, userID, dm, r.opts.QuestionTimeout)
		if err != nil {
			return "", err
		}
		if reply.IsChoice() {
			if r.types.IsRegion(reply.Choice) {
				return reply.Choice, nil
			}
			continue
		}
		if r.cancelled(reply.Message.Content) {
			return "", errs.ErrIntakeCancelled
		}
		if err := r.send(ctx, dm, "Please pick your region from the menu above."); err != nil {
			return "", err
		}
	}
}

// awaitAnswer waits for the next message with text or attachments. Attachments are
// inlined as URLs after the text.
func (r *Runner) awaitAnswer(ctx context.Context, userID, dm string) (string, error) {
	for {
		reply, err := r.collector.Await(ctx, userID, dm, r.opts.QuestionTimeout)
		if err != nil {
			return "", err
		}
		if reply.IsChoice() {
			continue
		}
		msg := reply.Message
		if r.cancelled(msg.Content) {
			return "", errs.ErrIntakeCancelled
		}
		parts := make([]string, 0, len(msg.Attachments)+1)
		if s := strings.TrimSpace(msg.Content); s != "" {
			parts = append(parts, s)
		}
		for _, a := range msg.Attachments {
			parts = append(parts, a.URL)
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}
}

func (r *Runner) cancelled(content string) bool {
	return strings.EqualFold(strings.TrimSpace(content), r.opts.CancelKeyword)
}

func (r *Runner) check(tt *config.TicketType, index int, answer string) error {
	for _, p := range r.policies {
		if err := p(tt, index, answer); err != nil {
			return err
		}
	}
	return nil
}

// farewell tells the user why the session ended. Best-effort.
func (r *Runner) farewell(ctx context.Context, dm string, cause error) {
	if errors.Is(cause, context.Canceled) {
		return
	}
	if _, err := r.client.Send(ctx, dm, platform.Outgoing{Content: errs.UserMessage(cause)}); err != nil {
		log.Printf("intake: farewell to %s: %v", dm, err)
	}
}

package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/store"
)

// Registry owns ticket identity and the persisted ticket record.
type Registry struct {
	kv  store.KV
	now func() time.Time
}

func NewRegistry(kv store.KV) *Registry {
	return &Registry{kv: kv, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Create takes the next number from the global counter and persists an open ticket.
// The increment is atomic in the store, so concurrent creations never share a number.
func (r *Registry) Create(ctx context.Context, ticketType, requesterID, region, responses string) (*model.Ticket, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("create ticket: requester: %w", errs.ErrInvalidID)
	}
	n, err := r.kv.Incr(ctx, store.TicketCounterKey)
	if err != nil {
		return nil, fmt.Errorf("create ticket: counter: %w", err)
	}
	t := &model.Ticket{
		Number:      FormatNumber(n),
		Type:        ticketType,
		RequesterID: requesterID,
		Server:      region,
		Status:      model.TicketStatusOpen,
		Responses:   responses,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.kv.Set(ctx, store.TicketKey(requesterID, t.Number), t); err != nil {
		return nil, fmt.Errorf("create ticket %s: %w", t.Number, err)
	}
	return t, nil
}

func (r *Registry) Get(ctx context.Context, requesterID, number string) (*model.Ticket, error) {
	var t model.Ticket
	if err := r.kv.Get(ctx, store.TicketKey(requesterID, number), &t); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("ticket %s/%s: %w", requesterID, number, errs.ErrTicketNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// Update applies fn to the stored ticket and writes it back. Closed tickets only
// accept changes to archival fields; fn decides which fields it touches.
func (r *Registry) Update(ctx context.Context, requesterID, number string, fn func(t *model.Ticket)) (*model.Ticket, error) {
	t, err := r.Get(ctx, requesterID, number)
	if err != nil {
		return nil, err
	}
	fn(t)
	if err := r.kv.Set(ctx, store.TicketKey(requesterID, number), t); err != nil {
		return nil, fmt.Errorf("update ticket %s: %w", number, err)
	}
	return t, nil
}

// List returns the tickets of one requester, or of everyone when requesterID is empty.
func (r *Registry) List(ctx context.Context, requesterID string) ([]model.Ticket, error) {
	keys, err := r.kv.Keys(ctx, store.TicketPrefix(requesterID))
	if err != nil {
		return nil, err
	}
	out := make([]model.Ticket, 0, len(keys))
	for _, k := range keys {
		if _, _, ok := store.SplitTicketKey(k); !ok {
			continue
		}
		var t model.Ticket
		if err := r.kv.Get(ctx, k, &t); err != nil {
			// Deleted between Keys and Get.
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

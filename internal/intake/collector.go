package intake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/platform"
)

// Reply is what a waiting session receives: a message, or a component choice.
type Reply struct {
	Message platform.Message
	Choice  string
}

func (r Reply) IsChoice() bool { return r.Choice != "" }

type waitKey struct {
	userID    string
	channelID string
}

// Collector hands inbound events to the session waiting on them. A waiter is keyed by
// user and conversation; events that match no waiter are left to the caller.
type Collector struct {
	mu      sync.Mutex
	waiters map[waitKey]chan Reply
}

func NewCollector() *Collector {
	return &Collector{waiters: make(map[waitKey]chan Reply)}
}

// Await blocks until Offer or OfferChoice delivers a reply for (userID, channelID),
// timeout elapses (errs.ErrIntakeTimeout) or ctx ends.
func (c *Collector) Await(ctx context.Context, userID, channelID string, timeout time.Duration) (Reply, error) {
	k := waitKey{userID, channelID}
	ch := make(chan Reply, 1)
	c.mu.Lock()
	c.waiters[k] = ch
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		if r, ok := c.cancel(k, ch); ok {
			return r, nil
		}
		return Reply{}, fmt.Errorf("await reply from %s: %w", userID, errs.ErrIntakeTimeout)
	case <-ctx.Done():
		if r, ok := c.cancel(k, ch); ok {
			return r, nil
		}
		return Reply{}, ctx.Err()
	}
}

// cancel unregisters ch. A reply delivered between the wakeup and the lock still wins.
func (c *Collector) cancel(k waitKey, ch chan Reply) (Reply, bool) {
	c.mu.Lock()
	if c.waiters[k] == ch {
		delete(c.waiters, k)
	}
	c.mu.Unlock()
	select {
	case r := <-ch:
		return r, true
	default:
		return Reply{}, false
	}
}

func (c *Collector) deliver(k waitKey, r Reply) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.waiters[k]
	if !ok {
		return false
	}
	delete(c.waiters, k)
	ch <- r
	return true
}

// Offer passes msg to the session waiting on its author and channel and reports
// whether one took it.
func (c *Collector) Offer(msg platform.Message) bool {
	return c.deliver(waitKey{msg.AuthorID, msg.ChannelID}, Reply{Message: msg})
}

// OfferChoice passes a select-menu value to the waiting session.
func (c *Collector) OfferChoice(userID, channelID, value string) bool {
	if value == "" {
		return false
	}
	return c.deliver(waitKey{userID, channelID}, Reply{Choice: value})
}

// Waiting reports whether a session is waiting on (userID, channelID).
func (c *Collector) Waiting(userID, channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.waiters[waitKey{userID, channelID}]
	return ok
}

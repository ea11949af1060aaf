package ticket

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/store"
	"golang.org/x/sync/errgroup"
)

func TestRegistryNumbersAreUniqueUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	reg := NewRegistry(kv)

	// Start from a non-zero counter.
	for i := 0; i < 5; i++ {
		if _, err := kv.Incr(ctx, store.TicketCounterKey); err != nil {
			t.Fatal(err)
		}
	}
	const n = 40
	numbers := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			tk, err := reg.Create(ctx, "General", "user", "", "")
			if err != nil {
				return err
			}
			numbers[i] = tk.Number
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	sort.Strings(numbers)
	for i, got := range numbers {
		if want := FormatNumber(int64(5 + i + 1)); got != want {
			t.Fatalf("numbers[%d] = %s, want %s (all: %v)", i, got, want, numbers)
		}
	}
}

func TestRegistryCreateGetUpdateList(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(store.NewMemory()).WithClock(func() time.Time { return at })

	tk, err := reg.Create(ctx, "General", "u1", "eu", "**Q**\nA")
	if err != nil {
		t.Fatal(err)
	}
	if tk.Number != "0001" || tk.Status != model.TicketStatusOpen || !tk.CreatedAt.Equal(at) {
		t.Fatalf("created %+v", tk)
	}
	if _, err := reg.Create(ctx, "General", "u2", "", ""); err != nil {
		t.Fatal(err)
	}
	got, err := reg.Get(ctx, "u1", "0001")
	if err != nil || got.Server != "eu" || got.Responses != "**Q**\nA" {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if _, err := reg.Get(ctx, "u1", "0002"); !errors.Is(err, errs.ErrTicketNotFound) {
		t.Fatalf("get missing: %v", err)
	}
	upd, err := reg.Update(ctx, "u1", "0001", func(t *model.Ticket) { t.Type = "Billing" })
	if err != nil || upd.Type != "Billing" {
		t.Fatalf("update = %+v, %v", upd, err)
	}
	mine, _ := reg.List(ctx, "u1")
	all, _ := reg.List(ctx, "")
	if len(mine) != 1 || mine[0].Type != "Billing" || len(all) != 2 {
		t.Fatalf("list mine=%v all=%d", mine, len(all))
	}
	if _, err := reg.Create(ctx, "General", "", "", ""); !errors.Is(err, errs.ErrInvalidID) {
		t.Fatalf("empty requester: %v", err)
	}
}

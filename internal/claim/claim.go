// Package claim tracks exclusive staff ownership of ticket channels.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/platform"
	"github.com/psds-microservice/support-bot/internal/store"
	"github.com/psds-microservice/support-bot/internal/ticket"
)

// Actor is whoever triggers a claim transition.
type Actor struct {
	UserID string
	Roles  []string
}

// Result is a completed transition.
type Result struct {
	Claim    model.Claim
	Handle   ticket.Handle
	Claimed  bool
	Warnings []string
}

type Manager struct {
	client        platform.Client
	kv            store.KV
	types         *config.TicketTypes
	prov          *ticket.Provisioner
	adminRoleID   string
	overrideRoles []string
	now           func() time.Time
}

func NewManager(client platform.Client, kv store.KV, types *config.TicketTypes, prov *ticket.Provisioner, adminRoleID string, overrideRoles []string) *Manager {
	return &Manager{
		client:        client,
		kv:            kv,
		types:         types,
		prov:          prov,
		adminRoleID:   adminRoleID,
		overrideRoles: overrideRoles,
		now:           time.Now,
	}
}

// Get reads the live claim on channelID. errs.ErrNotClaimed when there is none.
func (m *Manager) Get(ctx context.Context, channelID string) (*model.Claim, error) {
	var c model.Claim
	if err := m.kv.Get(ctx, store.ClaimKey(channelID), &c); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("channel %s: %w", channelID, errs.ErrNotClaimed)
		}
		return nil, err
	}
	return &c, nil
}

// Claim takes the ticket in channelID for actor. The claim record is created with an
// insert-if-absent, so of two concurrent claims exactly one wins; the other gets a
// *errs.ClaimConflictError naming the holder. Claiming one's own ticket again is a no-op.
func (m *Manager) Claim(ctx context.Context, channelID string, actor Actor) (*Result, error) {
	h, tt, err := m.resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !m.IsStaff(tt, actor.Roles) {
		return nil, fmt.Errorf("claim %s: %w", channelID, errs.ErrUnauthorized)
	}
	rec := model.Claim{UserID: actor.UserID, At: m.now().UTC(), TicketType: tt.Name, TicketID: h.Number}
	ok, err := m.kv.SetNX(ctx, store.ClaimKey(channelID), rec)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", channelID, err)
	}
	if !ok {
		live, err := m.Get(ctx, channelID)
		if err != nil {
			// Released between the insert and the read; report as a conflict rather than retry.
			return nil, fmt.Errorf("claim %s: %w", channelID, errs.ErrClaimConflict)
		}
		if live.UserID == actor.UserID {
			return &Result{Claim: *live, Handle: h, Claimed: true}, nil
		}
		return nil, &errs.ClaimConflictError{ClaimantID: live.UserID}
	}

	res := &Result{Claim: rec, Handle: h, Claimed: true}
	ows := ticket.ApplyClaim(m.prov.Overwrites(tt), tt, actor.UserID)
	if err := m.client.SetOverwrites(ctx, channelID, ows); err != nil {
		res.warn("could not apply claim permissions: %v", err)
	}
	if err := m.rename(ctx, channelID, ticket.WithClaimSuffix); err != nil {
		res.warn("could not rename the channel: %v", err)
	}
	m.notify(ctx, channelID, fmt.Sprintf("🔒 Ticket claimed by %s.", platform.MentionUser(actor.UserID)), res.Warnings)
	return res, nil
}

// Unclaim releases the claim. Only the claimant or a holder of an override role may
// do so. Reply permissions of the type's access roles are restored and the claim
// suffix is stripped from the channel name.
func (m *Manager) Unclaim(ctx context.Context, channelID string, actor Actor) (*Result, error) {
	live, err := m.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if live.UserID != actor.UserID && !m.canOverride(actor.Roles) {
		return nil, fmt.Errorf("unclaim %s (held by %s): %w", channelID, live.UserID, errs.ErrNotClaimant)
	}
	released, err := m.kv.DeleteIf(ctx, store.ClaimKey(channelID), "userId", live.UserID)
	if err != nil {
		return nil, fmt.Errorf("unclaim %s: %w", channelID, err)
	}
	if !released {
		// Released or taken by someone else since it was read.
		if cur, gerr := m.Get(ctx, channelID); gerr == nil {
			return nil, &errs.ClaimConflictError{ClaimantID: cur.UserID}
		}
		return nil, fmt.Errorf("unclaim %s: %w", channelID, errs.ErrClaimConflict)
	}

	res := &Result{Claim: *live}
	tt, ok := m.types.Lookup(live.TicketType)
	if !ok {
		res.warn("unknown ticket type %q, permissions left as they are", live.TicketType)
	} else if err := m.client.SetOverwrites(ctx, channelID, m.prov.Overwrites(tt)); err != nil {
		res.warn("could not restore channel permissions: %v", err)
	}
	if err := m.rename(ctx, channelID, ticket.WithoutClaimSuffix); err != nil {
		res.warn("could not rename the channel: %v", err)
	}
	m.notify(ctx, channelID, fmt.Sprintf("🔓 Ticket unclaimed by %s.", platform.MentionUser(actor.UserID)), res.Warnings)
	return res, nil
}

// Toggle claims an unclaimed ticket and unclaims a claimed one. A claim held by
// someone else, pressed by a non-override actor, is a conflict.
func (m *Manager) Toggle(ctx context.Context, channelID string, actor Actor) (*Result, error) {
	live, err := m.Get(ctx, channelID)
	if errors.Is(err, errs.ErrNotClaimed) {
		return m.Claim(ctx, channelID, actor)
	}
	if err != nil {
		return nil, err
	}
	if live.UserID != actor.UserID && !m.canOverride(actor.Roles) {
		return nil, &errs.ClaimConflictError{ClaimantID: live.UserID}
	}
	return m.Unclaim(ctx, channelID, actor)
}

// CanReply re-reads the live claim and reports whether authorID may send in the
// ticket channel. Without a claim, or when the type does not restrict replies,
// everyone with channel access may.
func (m *Manager) CanReply(ctx context.Context, channelID, authorID string, roles []string) (bool, *model.Claim, error) {
	live, err := m.Get(ctx, channelID)
	if errors.Is(err, errs.ErrNotClaimed) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	tt, ok := m.types.Lookup(live.TicketType)
	if !ok || !tt.RestrictRepliesToClaimant || live.UserID == authorID || m.canOverride(roles) {
		return true, live, nil
	}
	for _, r := range roles {
		if tt.IsBypass(r) {
			return true, live, nil
		}
	}
	return false, live, nil
}

func (m *Manager) resolve(ctx context.Context, channelID string) (ticket.Handle, *config.TicketType, error) {
	pinned, err := m.client.Pinned(ctx, channelID)
	if err != nil {
		return ticket.Handle{}, nil, fmt.Errorf("claim: pins of %s: %w", channelID, err)
	}
	h, _, err := ticket.FindSummary(pinned)
	if err != nil {
		return ticket.Handle{}, nil, fmt.Errorf("claim %s: %w", channelID, err)
	}
	tt, ok := m.types.Lookup(h.Type)
	if !ok {
		return h, nil, fmt.Errorf("claim %s: %q: %w", channelID, h.Type, errs.ErrUnknownTicketType)
	}
	return h, tt, nil
}

func (m *Manager) rename(ctx context.Context, channelID string, fn func(string) string) error {
	ch, err := m.client.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	name := fn(ch.Name)
	if name == ch.Name {
		return nil
	}
	return m.client.RenameChannel(ctx, channelID, name)
}

func (m *Manager) notify(ctx context.Context, channelID, text string, warnings []string) {
	if _, err := m.client.Send(ctx, channelID, platform.Outgoing{Content: text}); err != nil {
		log.Printf("claim: notify %s: %v", channelID, err)
	}
	for _, w := range warnings {
		if _, err := m.client.Send(ctx, channelID, platform.Outgoing{Content: ticket.WarningPrefix + w}); err != nil {
			log.Printf("claim: post warning in %s: %v", channelID, err)
		}
	}
}

// IsStaff reports whether roles grant access to tickets of type tt.
func (m *Manager) IsStaff(tt *config.TicketType, roles []string) bool {
	return tt.HasAccess(roles) || m.canOverride(roles)
}

func (m *Manager) canOverride(roles []string) bool {
	for _, r := range roles {
		if r != "" && r == m.adminRoleID {
			return true
		}
		for _, o := range m.overrideRoles {
			if r == o {
				return true
			}
		}
	}
	return false
}

func (r *Result) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("claim: %s", msg)
	r.Warnings = append(r.Warnings, msg)
}

package errs

import (
	"errors"
	"fmt"
)

// Lookup failures.
var (
	ErrNotFound        = errors.New("not found")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrSummaryMissing  = errors.New("ticket summary not found in channel pins")
	ErrMalformedHandle = errors.New("malformed ticket summary")
	ErrNotClaimed      = errors.New("ticket is not claimed")
)

// Validation failures.
var (
	ErrUnknownTicketType    = errors.New("unknown ticket type")
	ErrDisallowedAttachment = errors.New("attachment type not allowed")
	ErrRegionRequired       = errors.New("region required for ticket type")
	ErrInvalidID            = errors.New("invalid id")
)

// Authorization failures.
var (
	ErrUnauthorized  = errors.New("not authorized")
	ErrClaimConflict = errors.New("ticket already claimed")
	ErrNotClaimant   = errors.New("only the claimant can do this")
)

// Platform failures. Adapters wrap their native errors with these.
var (
	ErrDeliveryRefused = errors.New("recipient does not accept direct messages")
	ErrForbidden       = errors.New("missing permissions")
	ErrGone            = errors.New("resource no longer exists")
)

// Intake outcomes.
var (
	ErrIntakeCancelled = errors.New("intake cancelled by user")
	ErrIntakeTimeout   = errors.New("intake timed out waiting for a reply")
	ErrIntakeDenied    = errors.New("intake denied by policy")
	ErrSessionActive   = errors.New("intake already in progress")
	ErrTicketOpen      = errors.New("requester already has an open ticket")
)

// ClaimConflictError reports who holds the claim. It unwraps to ErrClaimConflict.
type ClaimConflictError struct {
	ClaimantID string
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("ticket already claimed by %s", e.ClaimantID)
}

func (e *ClaimConflictError) Unwrap() error { return ErrClaimConflict }

// DeniedError carries the policy message shown to the requester. It unwraps to ErrIntakeDenied.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "intake denied: " + e.Reason }

func (e *DeniedError) Unwrap() error { return ErrIntakeDenied }

// Class groups errors into the categories handlers report on.
type Class int

const (
	ClassInternal Class = iota
	ClassDelivery
	ClassStructural
	ClassLookup
	ClassValidation
	ClassAuthorization
	ClassIntake
)

func (c Class) String() string {
	switch c {
	case ClassDelivery:
		return "delivery"
	case ClassStructural:
		return "structural"
	case ClassLookup:
		return "lookup"
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassIntake:
		return "intake"
	default:
		return "internal"
	}
}

// Classify maps err onto the error taxonomy.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrDeliveryRefused):
		return ClassDelivery
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrGone):
		return ClassStructural
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTicketNotFound),
		errors.Is(err, ErrSummaryMissing), errors.Is(err, ErrMalformedHandle),
		errors.Is(err, ErrNotClaimed):
		return ClassLookup
	case errors.Is(err, ErrUnknownTicketType), errors.Is(err, ErrDisallowedAttachment),
		errors.Is(err, ErrRegionRequired), errors.Is(err, ErrInvalidID):
		return ClassValidation
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrClaimConflict), errors.Is(err, ErrNotClaimant):
		return ClassAuthorization
	case errors.Is(err, ErrIntakeCancelled), errors.Is(err, ErrIntakeTimeout),
		errors.Is(err, ErrIntakeDenied), errors.Is(err, ErrSessionActive), errors.Is(err, ErrTicketOpen):
		return ClassIntake
	}
	return ClassInternal
}

// UserMessage returns the text shown to whoever triggered the failed action.
func UserMessage(err error) string {
	var conflict *ClaimConflictError
	if errors.As(err, &conflict) {
		return fmt.Sprintf("This ticket is already claimed by <@%s>.", conflict.ClaimantID)
	}
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Reason
	}
	switch {
	case errors.Is(err, ErrDisallowedAttachment):
		return "One of your attachments has a file type that is not allowed, so the message was not sent."
	case errors.Is(err, ErrUnknownTicketType):
		return "That ticket type does not exist."
	case errors.Is(err, ErrSummaryMissing), errors.Is(err, ErrMalformedHandle):
		return "This channel is not a ticket (no readable ticket summary is pinned)."
	case errors.Is(err, ErrNotClaimed):
		return "This ticket is not claimed."
	case errors.Is(err, ErrNotClaimant):
		return "Only the staff member who claimed this ticket can do that."
	case errors.Is(err, ErrUnauthorized):
		return "You are not allowed to do that."
	case errors.Is(err, ErrDeliveryRefused):
		return "The user does not accept direct messages, so the message could not be delivered."
	case errors.Is(err, ErrIntakeCancelled):
		return "Ticket creation cancelled."
	case errors.Is(err, ErrIntakeTimeout):
		return "You took too long to answer, so ticket creation was cancelled. You can start again at any time."
	case errors.Is(err, ErrSessionActive):
		return "You are already creating a ticket. Finish or cancel it first."
	case errors.Is(err, ErrTicketOpen):
		return "You already have an open ticket. Reply here to talk to staff."
	case errors.Is(err, ErrForbidden):
		return "I am missing permissions to do that."
	case errors.Is(err, ErrInvalidID):
		return "That id is not valid."
	}
	return "Something went wrong. Staff have been notified in the logs."
}

package intake

import (
	"strconv"
	"strings"

	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/errs"
)

// Policy inspects the answer to question index of type tt and returns a
// *errs.DeniedError to stop the intake without creating a ticket.
type Policy func(tt *config.TicketType, index int, answer string) error

// AgeGate denies when the type's age-gate question is answered with a number below
// the configured minimum. Answers that are not numbers pass; staff review them.
func AgeGate(tt *config.TicketType, index int, answer string) error {
	g := tt.AgeGate
	if g == nil || g.Question != index {
		return nil
	}
	age, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil {
		return nil
	}
	if age < g.MinAge {
		return &errs.DeniedError{Reason: g.DenyMessage}
	}
	return nil
}

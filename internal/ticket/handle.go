package ticket

import (
	"fmt"
	"strings"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/platform"
)

const (
	footerSep    = " | "
	footerSuffix = "Ticket Opened:"
	titleSep     = " #"
)

// Handle is the ticket identity carried by the pinned summary. Every component that
// needs to know which ticket a channel represents decodes it; nothing else parses
// the summary text.
type Handle struct {
	RequesterID string
	Number      string
	Type        string
}

// Title renders "{Type} #{Number}".
func (h Handle) Title() string { return h.Type + titleSep + h.Number }

// Footer renders "{requesterId}-{number} | {Type} | Ticket Opened:".
func (h Handle) Footer() string {
	return h.RequesterID + "-" + h.Number + footerSep + h.Type + footerSep + footerSuffix
}

// DecodeHandle recovers a Handle from a summary title and footer.
func DecodeHandle(title, footer string) (Handle, error) {
	parts := strings.Split(footer, footerSep)
	if len(parts) < 3 {
		return Handle{}, fmt.Errorf("footer %q: %w", footer, errs.ErrMalformedHandle)
	}
	ident := parts[0]
	dash := strings.LastIndex(ident, "-")
	if dash <= 0 || dash == len(ident)-1 {
		return Handle{}, fmt.Errorf("footer %q: %w", footer, errs.ErrMalformedHandle)
	}
	h := Handle{RequesterID: ident[:dash], Number: ident[dash+1:]}
	if !digits(h.Number) {
		return Handle{}, fmt.Errorf("footer number %q: %w", h.Number, errs.ErrMalformedHandle)
	}

	hash := strings.LastIndex(title, titleSep)
	if hash <= 0 {
		return Handle{}, fmt.Errorf("title %q: %w", title, errs.ErrMalformedHandle)
	}
	h.Type = title[:hash]
	if title[hash+len(titleSep):] != h.Number {
		return Handle{}, fmt.Errorf("title %q does not match footer number %s: %w", title, h.Number, errs.ErrMalformedHandle)
	}
	return h, nil
}

// FindSummary scans pinned messages for the first embed that decodes as a Handle.
func FindSummary(pinned []platform.Message) (Handle, platform.Message, error) {
	for _, m := range pinned {
		for _, e := range m.Embeds {
			if h, err := DecodeHandle(e.Title, e.Footer); err == nil {
				return h, m, nil
			}
		}
	}
	return Handle{}, platform.Message{}, errs.ErrSummaryMissing
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

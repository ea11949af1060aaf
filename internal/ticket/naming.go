package ticket

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	numberWidth = 4
	ClaimSuffix = "-claimed"
)

// FormatNumber zero-pads a counter value. Wider values are kept whole.
func FormatNumber(n int64) string {
	return fmt.Sprintf("%0*d", numberWidth, n)
}

// ChannelName derives "{region-}{type}-{number}".
func ChannelName(region, ticketType, number string) string {
	name := slug(ticketType) + "-" + number
	if r := slug(region); r != "" {
		name = r + "-" + name
	}
	return name
}

// WithClaimSuffix appends the claim marker once.
func WithClaimSuffix(name string) string {
	if strings.HasSuffix(name, ClaimSuffix) {
		return name
	}
	return name + ClaimSuffix
}

func WithoutClaimSuffix(name string) string {
	return strings.TrimSuffix(name, ClaimSuffix)
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsSpace(r) {
			b.WriteByte('-')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Package store is the hierarchical key/value layer every ticket component persists through.
// Keys are dot-separated paths; values are JSON documents.
package store

import (
	"context"
	"strings"
)

// KV is the storage contract the core needs: get/set/delete, an atomic counter,
// an insert-if-absent primitive for exclusive records, and prefix listing for readers.
type KV interface {
	// Get decodes the value at key into dst. Returns errs.ErrNotFound when absent.
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value any) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteIf removes key only while the string field of its JSON object equals want,
	// and reports whether it did.
	DeleteIf(ctx context.Context, key, field, want string) (bool, error)
	// Incr atomically increments the counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Keys lists keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

const TicketCounterKey = "globalTicketCounter"

func TicketKey(userID, number string) string { return "tickets." + userID + "." + number }

func TicketPrefix(userID string) string {
	if userID == "" {
		return "tickets."
	}
	return "tickets." + userID + "."
}

func ClaimKey(channelID string) string { return "claims." + channelID }

func DMToStaffKey(sourceMsgID string) string { return "relayMap.dmToStaff." + sourceMsgID }

func StaffToDMKey(sourceMsgID string) string { return "relayMap.staffToDm." + sourceMsgID }

// SplitTicketKey returns the user id and ticket number encoded in a tickets.* key.
func SplitTicketKey(key string) (userID, number string, ok bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != "tickets" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

package relay

import (
	"fmt"
	"path"
	"strings"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/platform"
)

// Staff message prefixes. They are matched literally at the start of the message.
const (
	// NotePrefix marks a staff-internal note: never relayed, hidden from the requester's transcript.
	NotePrefix = "//"
	// SelfPrefix sends the reply under the staff member's own name.
	SelfPrefix = "!self "
	// AnonPrefix sends the reply under the generic support identity.
	AnonPrefix = "!anon "
)

// IsNote reports whether a staff message is an internal note.
func IsNote(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), NotePrefix)
}

// ParseReplyMode resolves the identity mode of a staff reply. A leading SelfPrefix or
// AnonPrefix overrides def and is stripped from the returned text.
func ParseReplyMode(content string, def bool) (anonymous bool, text string) {
	switch {
	case strings.HasPrefix(content, SelfPrefix):
		return false, strings.TrimPrefix(content, SelfPrefix)
	case strings.HasPrefix(content, AnonPrefix):
		return true, strings.TrimPrefix(content, AnonPrefix)
	}
	return def, content
}

// Chunk splits text into pieces of at most limit runes whose concatenation is text.
// Empty text yields no chunks.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	out := make([]string, 0, (len(runes)+limit-1)/limit)
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	return append(out, string(runes))
}

// ValidateAttachments checks every attachment against the allow-list before any is
// sent. An empty allow-list accepts everything.
func ValidateAttachments(atts []platform.Attachment, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	ok := make(map[string]bool, len(allowed))
	for _, ext := range allowed {
		ok[normalizeExt(ext)] = true
	}
	for _, a := range atts {
		if ext := normalizeExt(path.Ext(a.Filename)); ext == "" || !ok[ext] {
			return fmt.Errorf("attachment %q: %w", a.Filename, errs.ErrDisallowedAttachment)
		}
	}
	return nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func filesOf(atts []platform.Attachment) []platform.File {
	files := make([]platform.File, len(atts))
	for i, a := range atts {
		files[i] = platform.File{Name: a.Filename, URL: a.URL}
	}
	return files
}

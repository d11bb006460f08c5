package content

import (
	"strings"

	"github.com/romstack/romstack/pkg/fault"
)

// unsafeNameChars are stripped from display names before they become file
// names. Covers both POSIX and Windows reserved characters.
const unsafeNameChars = `<>:"/\|?*`

// SanitizeName turns a display title into a safe single path component:
// control and reserved characters stripped, whitespace runs collapsed to one
// space, result trimmed. Names that sanitize to nothing, start with a dot, or
// smell like traversal are rejected.
func SanitizeName(name string) (string, error) {
	var b strings.Builder
	b.Grow(len(name))
	space := false
	for _, r := range name {
		switch {
		case r == ' ' || r == '\t':
			space = true
		case r < 0x20 || r == 0x7F:
			// drop control characters
		case strings.ContainsRune(unsafeNameChars, r):
			// drop reserved characters
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}

	clean := b.String()
	if clean == "" {
		return "", fault.Newf(fault.KindPathUnsafe, "name %q sanitizes to nothing", name)
	}
	if strings.HasPrefix(clean, ".") {
		return "", fault.Newf(fault.KindPathUnsafe, "name %q starts with a dot", name)
	}
	return clean, nil
}

package download

import (
	"strings"
	"unicode"
)

const maxNameLen = 50

// SafeName turns a search keyword into a filesystem-safe file name stem.
func SafeName(keyword string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(keyword) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= maxNameLen {
			break
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "images"
	}
	return name
}

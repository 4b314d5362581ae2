package store

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// maxDirNameBytes is the directory name length cap. 255 bytes is the
	// limit on the common filesystems (ext4, APFS, NTFS); the id suffix
	// appended on collisions must still fit, so derived names leave room.
	maxDirNameBytes = 200

	// fallbackDirName is used when sanitizing strips a title to nothing.
	fallbackDirName = "untitled"
)

// SafeTitle derives a filesystem-safe directory name from a node title.
// It is a pure function of the title: re-deriving for the same title
// always agrees, which is what makes rename detection and collision
// handling deterministic. Applies Unicode NFC normalization, replaces
// characters that are illegal on at least one supported platform, and
// truncates on a rune boundary.
func SafeTitle(title string) string {
	title = norm.NFC.String(title)

	var b strings.Builder

	for _, r := range title {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	name := strings.TrimSpace(b.String())
	// Trailing dots and spaces are rejected on Windows.
	name = strings.TrimRight(name, ". ")

	name = truncateBytes(name, maxDirNameBytes)

	if name == "" {
		return fallbackDirName
	}

	return name
}

// DisambiguatedName returns the collision-resolving directory name for
// a title: the safe title suffixed with the node's stable remote id.
func DisambiguatedName(title, id string) string {
	return SafeTitle(title) + "_" + id
}

// truncateBytes shortens s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !isRuneStart(s[n]) {
		n--
	}

	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

package tasks

import (
	"regexp"
	"strings"
)

// BroadcastToken addresses every currently-known actor.
const BroadcastToken = "all"

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9_-]*)`)

// ParseMentions extracts addressing tokens from a message body. Returns the
// distinct mentioned names (without the sigil, broadcast token excluded) and
// whether an @all broadcast was present.
func ParseMentions(body string) (names []string, broadcast bool) {
	seen := make(map[string]bool)
	for _, match := range mentionPattern.FindAllStringSubmatch(body, -1) {
		name := match[1]
		if strings.EqualFold(name, BroadcastToken) {
			broadcast = true
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, broadcast
}

package voice

import "strings"

// DefaultWakePhrase prefixes every spoken command.
const DefaultWakePhrase = "hey spider"

// extract returns the command text following the wake phrase. ok is
// false when the phrase is absent; an empty cmd with ok true means the
// phrase was heard on its own.
func extract(text, wake string) (cmd string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	wake = strings.ToLower(strings.TrimSpace(wake))
	if wake == "" {
		return lower, lower != ""
	}
	i := strings.Index(lower, wake)
	if i < 0 {
		return "", false
	}
	rest := lower[:i] + " " + lower[i+len(wake):]
	rest = strings.Trim(rest, " ,.!?")
	return strings.Join(strings.Fields(rest), " "), true
}

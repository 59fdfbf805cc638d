package social

import "strings"

// BuildMessage appends hashtags to the text separated by a blank line.
// Hashtags are emitted verbatim in their original order.
func BuildMessage(text string, hashtags []string) string {
	if len(hashtags) == 0 {
		return text
	}
	return text + "\n\n" + strings.Join(hashtags, " ")
}

package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const previewRunes = 80

// ContentPreview returns a loggable rendition of message content. With
// verbose off the text itself never reaches the logs, only its length.
func ContentPreview(content string, verbose bool) string {
	if content == "" {
		return ""
	}
	if !verbose {
		return fmt.Sprintf("[redacted, %d chars]", utf8.RuneCountInString(content))
	}

	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes]) + "..."
}

// MaskSenderName keeps the first rune of each word so operators can
// still correlate log lines with a person without the full name
// landing in log storage.
func MaskSenderName(name string) string {
	if name == "" {
		return ""
	}

	words := strings.Fields(name)
	masked := make([]string, len(words))
	for i, w := range words {
		r := []rune(w)
		if len(r) == 1 {
			masked[i] = string(r[0]) + "."
			continue
		}
		masked[i] = string(r[0]) + strings.Repeat("*", len(r)-1)
	}
	return strings.Join(masked, " ")
}

// MaskIdentifier shows only the last 4 digits of a numeric identifier
// rendered as a string. Short values are masked entirely.
func MaskIdentifier(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}

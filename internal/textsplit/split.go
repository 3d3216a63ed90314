package textsplit

import (
	"strings"
	"unicode"
)

// Split режет текст на куски не длиннее limit рун.
// Предпочитает границы абзацев, затем концы предложений, затем пробелы.
func Split(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if limit <= 0 || len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := lastBreak(runes, start, end)
		if chunk := strings.TrimSpace(string(runes[start:split])); chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && unicode.IsSpace(runes[start]) {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}

// lastBreak ищет лучшую позицию разреза в (start, end].
func lastBreak(runes []rune, start, end int) int {
	for i := end; i > start; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := end; i > start+1; i-- {
		if isSentenceEnd(runes[i-2]) && unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	for i := end; i > start; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

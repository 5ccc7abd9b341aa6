package extract

import (
	"regexp"
	"strings"
)

// wikiLink matches [[target]] and [[target|alias]].
var wikiLink = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)

// cleanMarkdown drops YAML front matter and replaces wiki links with their
// visible text (the alias when present, otherwise the target).
func cleanMarkdown(text string) string {
	text = stripFrontMatter(text)
	return wikiLink.ReplaceAllStringFunc(text, func(m string) string {
		parts := wikiLink.FindStringSubmatch(m)
		if parts[2] != "" {
			return parts[2]
		}
		return parts[1]
	})
}

func stripFrontMatter(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return text
	}
	rest := normalized[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return text
	}
	after := rest[end+len("\n---"):]
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		return after[nl+1:]
	}
	return ""
}

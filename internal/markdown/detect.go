// Package markdown holds heuristics about converted page content.
package markdown

import (
	"regexp"
	"strings"
)

var (
	headingRe = regexp.MustCompile(`(?m)^(#{1,6})\s+\S`)
	listRe    = regexp.MustCompile(`(?m)^\s*(?:[\-\*+]|\d+\.)\s+\S`)
	linkRe    = regexp.MustCompile(`\[.+?\]\(.+?\)`)
	tableRe   = regexp.MustCompile(`(?m)^\|.*\|\s*$`)
	fenceRe   = regexp.MustCompile("(?m)^```")
)

// IsMarkdown reports whether content carries markdown structure.
func IsMarkdown(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || looksLikeHTML(trimmed) {
		return false
	}
	return headingRe.MatchString(trimmed) ||
		listRe.MatchString(trimmed) ||
		linkRe.MatchString(trimmed) ||
		tableRe.MatchString(trimmed) ||
		fenceRe.MatchString(trimmed)
}

// HeadingLevels returns the distinct ATX heading levels used in content,
// shallowest first.
func HeadingLevels(content string) []int {
	var seen [7]bool
	for _, m := range headingRe.FindAllStringSubmatch(content, -1) {
		seen[len(m[1])] = true
	}

	var levels []int
	for lvl := 1; lvl <= 6; lvl++ {
		if seen[lvl] {
			levels = append(levels, lvl)
		}
	}
	return levels
}

func looksLikeHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.HasPrefix(lower, "<!doctype") ||
		strings.HasPrefix(lower, "<html") ||
		strings.HasPrefix(lower, "<head") ||
		strings.HasPrefix(lower, "<body") ||
		strings.HasPrefix(lower, "<div")
}

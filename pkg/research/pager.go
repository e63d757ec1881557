package research

import "strings"

// splitWindows slices content into windows of at most size characters,
// preferring paragraph breaks, then line breaks, so a window does not cut a
// sentence mid-thought when it can avoid it.
func splitWindows(content string, size int) []string {
	if size <= 0 || len(content) <= size {
		if content == "" {
			return nil
		}
		return []string{content}
	}

	var windows []string
	for len(content) > size {
		cut := findBreak(content, size)
		windows = append(windows, content[:cut])
		content = content[cut:]
	}
	if strings.TrimSpace(content) != "" {
		windows = append(windows, content)
	}
	return windows
}

// findBreak picks a cut point at or before limit, preferring the last
// paragraph break in the second half of the window, then the last newline,
// then a hard cut.
func findBreak(content string, limit int) int {
	window := content[:limit]
	if i := strings.LastIndex(window, "\n\n"); i > limit/2 {
		return i + 2
	}
	if i := strings.LastIndex(window, "\n"); i > limit/2 {
		return i + 1
	}
	return limit
}

// normalizePoint is the equality key for deduplication: case-insensitive,
// whitespace-trimmed.
func normalizePoint(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// mergePoints extends merged with the new points that are not already
// present, in place. The seen set carries normalized keys across windows so
// repeated calls stay O(new) instead of rescanning the merged list.
func mergePoints(merged []string, seen map[string]bool, points []string) []string {
	for _, p := range points {
		key := normalizePoint(p)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, p)
	}
	return merged
}

// dedupePoints is the final pass over a fully merged list. Kept separate
// from mergePoints so a single-window step gets the same guarantee.
func dedupePoints(points []string) []string {
	seen := make(map[string]bool, len(points))
	var out []string
	for _, p := range points {
		key := normalizePoint(p)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

package research

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWindowsSmallContentSingleWindow(t *testing.T) {
	windows := splitWindows("short text", 100)
	assert.Equal(t, []string{"short text"}, windows)
}

func TestSplitWindowsEmptyContent(t *testing.T) {
	assert.Nil(t, splitWindows("", 100))
}

func TestSplitWindowsRespectsSizeAndCoversAll(t *testing.T) {
	content := strings.Repeat("abcdefghij", 100) // 1000 chars, no breaks
	windows := splitWindows(content, 300)

	require.Len(t, windows, 4)
	for _, w := range windows {
		assert.LessOrEqual(t, len(w), 300)
	}
	assert.Equal(t, content, strings.Join(windows, ""))
}

func TestSplitWindowsPrefersParagraphBreaks(t *testing.T) {
	para1 := strings.Repeat("a", 180)
	para2 := strings.Repeat("b", 150)
	content := para1 + "\n\n" + para2
	windows := splitWindows(content, 250)

	require.Len(t, windows, 2)
	assert.Equal(t, para1+"\n\n", windows[0])
	assert.Equal(t, para2, windows[1])
}

func TestMergePointsSkipsDuplicatesAcrossWindows(t *testing.T) {
	seen := make(map[string]bool)
	var merged []string

	merged = mergePoints(merged, seen, []string{"mechanic A", "mechanic B"})
	merged = mergePoints(merged, seen, []string{"Mechanic a", "mechanic C"})
	merged = mergePoints(merged, seen, []string{"  mechanic A  ", "mechanic B"})

	assert.Equal(t, []string{"mechanic A", "mechanic B", "mechanic C"}, merged)
}

func TestDedupePointsNormalizes(t *testing.T) {
	out := dedupePoints([]string{"One", " one ", "ONE", "two", "", "  "})
	assert.Equal(t, []string{"One", "two"}, out)
}

package chunker

import (
	"strings"
)

// speaker boundary marker form: **[speaker_1]** or **[Vardenis]**

// DefaultMaxLen is the default chunk size in runes
const DefaultMaxLen = 6000

// Split cuts text into chunks of at most maxLen runes.
// The cut point is selected by priority: the last speaker marker no earlier
// than 30% into the window, then the last sentence end after 70% of the
// window, then the last line break after 70% of the window, then a hard cut.
// Pure function - same input always gives the same chunks
func Split(text string, maxLen int) []string {
	r := []rune(text)
	if len(r) <= maxLen {
		return []string{text}
	}
	markers := markerIndexes(r)
	res := []string{}
	start := 0
	for start < len(r) {
		end := start + maxLen
		if end > len(r) {
			end = len(r)
		}
		if end < len(r) {
			end = cutPoint(r, markers, start, end, maxLen)
		}
		res = append(res, string(r[start:end]))
		start = end
	}
	return res
}

// SplitWithSpeakerContext splits as Split does and then re-attaches speaker
// context: a chunk not starting with a speaker marker gets the last speaker
// of the previous chunk prepended, so each chunk is interpretable on its own
func SplitWithSpeakerContext(text string, maxLen int) []string {
	if len([]rune(text)) <= maxLen {
		return []string{text}
	}
	chunks := Split(text, maxLen)
	res := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		ch = strings.TrimSpace(ch)
		if i > 0 && !startsWithMarker(ch) {
			if sp := LastSpeaker(res[i-1]); sp != "" {
				ch = "**[" + sp + "]**:\n" + ch
			}
		}
		res = append(res, ch)
	}
	return res
}

// LastSpeaker returns the speaker of the last marker in chunk, empty if none
func LastSpeaker(chunk string) string {
	r := []rune(chunk)
	res := ""
	for _, m := range markerIndexes(r) {
		res = string(r[m[0]+3 : m[1]-3])
	}
	return res
}

func cutPoint(r []rune, markers [][2]int, start, end, maxLen int) int {
	minSearch := start + maxLen*3/10
	best := -1
	for _, m := range markers {
		if m[0] > end {
			break
		}
		if m[0] >= minSearch {
			best = m[0]
		}
	}
	if best > start {
		return best
	}
	// cut lands after the found rune, so search below end to keep the bound
	if i := lastIndex(r, '.', end-1); i > start+maxLen*7/10 {
		return i + 1
	}
	if i := lastIndex(r, '\n', end-1); i > start+maxLen*7/10 {
		return i + 1
	}
	return end
}

// markerIndexes finds all **[...]** runs, returning [start, end) rune offsets
func markerIndexes(r []rune) [][2]int {
	res := [][2]int{}
	for i := 0; i+6 < len(r); i++ {
		if r[i] != '*' || r[i+1] != '*' || r[i+2] != '[' {
			continue
		}
		for j := i + 3; j < len(r); j++ {
			if r[j] == ']' {
				if j > i+3 && j+2 < len(r) && r[j+1] == '*' && r[j+2] == '*' {
					res = append(res, [2]int{i, j + 3})
					i = j + 2
				}
				break
			}
		}
	}
	return res
}

func startsWithMarker(s string) bool {
	r := []rune(s)
	for _, m := range markerIndexes(r) {
		return m[0] == 0
	}
	return false
}

func lastIndex(r []rune, c rune, from int) int {
	if from > len(r)-1 {
		from = len(r) - 1
	}
	for i := from; i >= 0; i-- {
		if r[i] == c {
			return i
		}
	}
	return -1
}

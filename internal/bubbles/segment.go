package bubbles

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rivo/uniseg"
)

// Segment is a chunk of a reply sized to fit one bubble.
//
// StartIndex and EndIndex are byte offsets into the remaining text the segment
// was cut from. Offset is the byte offset of the segment's first character in
// the text originally passed to SegmentText.
type Segment struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	WordCount  int    `json:"word_count"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Offset     int    `json:"offset"`
}

const (
	sentenceLookBehind = 50
	sentenceLookAhead  = 20
	sentenceMinRatio   = 0.7
	sentenceMaxRatio   = 1.3
)

type wrappedLine struct {
	text string
	end  int
}

// SegmentText splits text into bubble-sized segments, preferring sentence
// boundaries. Empty or whitespace-only text yields nil.
func SegmentText(text string, maxCharsPerLine, maxLinesPerBubble int) []Segment {
	maxCharsPerLine = max(maxCharsPerLine, 1)
	maxLinesPerBubble = max(maxLinesPerBubble, 1)

	var out []Segment
	base := 0
	rest := text
	for {
		trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
		base += len(rest) - len(trimmed)
		rest = strings.TrimRightFunc(trimmed, unicode.IsSpace)
		if rest == "" {
			return out
		}

		lines := wrap(rest, maxCharsPerLine)
		if len(lines) <= maxLinesPerBubble {
			return append(out, newSegment(rest, 0, len(rest), base))
		}

		cut := findBreak(rest, lines, maxCharsPerLine, maxLinesPerBubble)
		left := strings.TrimRightFunc(rest[:cut], unicode.IsSpace)
		out = append(out, newSegment(left, 0, cut, base))
		rest = rest[cut:]
		base += cut
	}
}

// WrapLines greedily word-wraps text at maxCharsPerLine grapheme clusters.
// Explicit newlines always break and may produce empty lines. A single word
// wider than the limit occupies its own line.
func WrapLines(text string, maxCharsPerLine int) []string {
	lines := wrap(text, max(maxCharsPerLine, 1))
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.text
	}
	return out
}

// CountWords counts whitespace-delimited tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

func newSegment(text string, start, end, offset int) Segment {
	return Segment{
		ID:         uuid.NewString(),
		Text:       text,
		WordCount:  CountWords(text),
		StartIndex: start,
		EndIndex:   end,
		Offset:     offset,
	}
}

func wrap(text string, maxChars int) []wrappedLine {
	var lines []wrappedLine
	start := 0
	for {
		nl := strings.IndexByte(text[start:], '\n')
		if nl < 0 {
			return wrapParagraph(lines, text, start, len(text), maxChars)
		}
		lines = wrapParagraph(lines, text, start, start+nl, maxChars)
		start += nl + 1
	}
}

func wrapParagraph(lines []wrappedLine, text string, start, end, maxChars int) []wrappedLine {
	var (
		b       strings.Builder
		width   int
		open    bool
		lineEnd = start
	)
	for i := start; i < end; {
		r, size := utf8.DecodeRuneInString(text[i:end])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		j := i
		for j < end {
			r, size := utf8.DecodeRuneInString(text[j:end])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		word := text[i:j]
		w := uniseg.GraphemeClusterCount(word)
		switch {
		case !open:
			b.WriteString(word)
			width = w
			open = true
		case width+1+w <= maxChars:
			b.WriteByte(' ')
			b.WriteString(word)
			width += 1 + w
		default:
			lines = append(lines, wrappedLine{text: b.String(), end: lineEnd})
			b.Reset()
			b.WriteString(word)
			width = w
		}
		lineEnd = j
		i = j
	}
	// Empty paragraphs still count as a line.
	return append(lines, wrappedLine{text: b.String(), end: lineEnd})
}

// findBreak returns the byte offset at which text should be cut so the left
// half fills at most maxLines wrapped lines. text has more than maxLines lines.
func findBreak(text string, lines []wrappedLine, maxChars, maxLines int) int {
	target := lines[maxLines-1].end
	if target <= 0 {
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	if cut, ok := sentenceBreak(text, target, maxChars, maxLines); ok {
		return cut
	}
	for i := target; i > 0; i-- {
		if i < len(text) && isSpaceAt(text, i) {
			return i
		}
	}
	return target
}

func sentenceBreak(text string, target, maxChars, maxLines int) (int, bool) {
	lo := max(target-sentenceLookBehind, 0)
	hi := min(target+sentenceLookAhead, len(text))
	minCut := sentenceMinRatio * float64(target)
	maxCut := sentenceMaxRatio * float64(target)
	for i := hi - 1; i >= lo; i-- {
		if !isSentenceTerminal(text[i]) {
			continue
		}
		cut := i + 1
		// Only the last rune of a punctuation run, and never the very end.
		if cut >= len(text) || !isSpaceAt(text, cut) {
			continue
		}
		if float64(cut) < minCut || float64(cut) > maxCut {
			continue
		}
		if len(wrap(text[:cut], maxChars)) > maxLines {
			continue
		}
		return cut, true
	}
	return 0, false
}

func isSentenceTerminal(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isSpaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r)
}

package formatter

import (
	"bytes"
	"sort"
)

// MatchSpan is a byte range in some content that a caller's replacement
// produced, paired with the text that currently occupies it.
type MatchSpan struct {
	Start, End int
	Text       string
}

// Reconstruct re-derives each of spans' extents inside after, given that
// they are known-correct byte ranges into before (the format-on-save
// hook's final reconstruction step). The text *outside* every span — the
// "stable" ranges — is used as an anchor: each stable range is located
// in after, in order, and the gaps between located anchors become the
// new span extents. An empty trailing range (the last span reaches the
// end of before) is anchored at the end of after.
//
// Reconstruction is abandoned (ok=false) if any stable range cannot be
// found in after at or after the previous anchor's end (the formatter
// changed something outside every edited span), or if two spans are
// adjacent or overlapping in before (spec: "overlapping or adjacent
// matches skip reconstruction" — a zero-length gap is not a usable
// anchor). spans need not be presented in order; the returned slice
// preserves the input order.
func Reconstruct(before, after []byte, spans []MatchSpan) ([]MatchSpan, bool) {
	if len(spans) == 0 {
		return nil, bytes.Equal(before, after)
	}

	order := make([]int, len(spans))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return spans[order[a]].Start < spans[order[b]].Start })

	sorted := make([]MatchSpan, len(spans))
	for i, idx := range order {
		sorted[i] = spans[idx]
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return nil, false // overlapping
		}
	}

	segments := make([][]byte, 0, len(sorted)+1)
	segments = append(segments, before[:sorted[0].Start])
	for i := 1; i < len(sorted); i++ {
		segments = append(segments, before[sorted[i-1].End:sorted[i].Start])
	}
	segments = append(segments, before[sorted[len(sorted)-1].End:])

	for i := 1; i < len(segments)-1; i++ {
		if len(segments[i]) == 0 {
			return nil, false // adjacent matches: no anchor between them
		}
	}

	out := make([]MatchSpan, len(sorted))
	cursor := 0
	for i, seg := range segments {
		idx := bytes.Index(after[cursor:], seg)
		if i == len(segments)-1 && len(seg) == 0 {
			idx = len(after) - cursor
		}
		if idx < 0 {
			return nil, false
		}
		segStart := cursor + idx
		segEnd := segStart + len(seg)
		if i > 0 {
			out[i-1].End = segStart
		}
		if i < len(sorted) {
			out[i].Start = segEnd
		}
		cursor = segEnd
	}
	for i := range out {
		out[i].Text = string(after[out[i].Start:out[i].End])
	}

	// restore the caller's original order
	result := make([]MatchSpan, len(spans))
	for i, idx := range order {
		result[idx] = out[i]
	}
	return result, true
}

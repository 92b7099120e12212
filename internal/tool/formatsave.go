package tool

import (
	"context"

	"github.com/opencode-ai/core/internal/formatter"
)

// runFormatOnSave runs the format-on-save hook for path after a
// successful write: if fmtMgr has a formatter mapped to the
// file's extension, it runs it, then attempts to reconstruct spans'
// extents against the formatted content using the text outside every
// span as a stable anchor. It always returns ran=false when fmtMgr is
// nil or no formatter applies — callers treat that identically to "ran
// but reconstruction wasn't needed" (the file is already in its final
// form either way).
//
// spans must be valid, non-overlapping byte ranges into the content
// that was just written to path, each carrying the text occupying that
// range. The formatter itself is never skipped or reverted if
// reconstruction fails; only the caller-visible record of what text now
// occupies each span is affected.
func runFormatOnSave(ctx context.Context, fmtMgr *formatter.Manager, path string, spans []formatter.MatchSpan) (reconstructed []formatter.MatchSpan, ran, ok bool) {
	if fmtMgr == nil {
		return nil, false, false
	}
	before, after, _, applied, err := fmtMgr.FormatAndCapture(ctx, path)
	if !applied || err != nil {
		return nil, applied, false
	}
	updated, ok := formatter.Reconstruct(before, after, spans)
	if !ok {
		return nil, true, false
	}
	return updated, true, true
}

package provider

import (
	"bufio"
	"io"
	"strings"
)

// sseFrame is one decoded "event: ...\ndata: ...\n\n" block. Multi-line
// data fields are joined with "\n" per the SSE spec.
type sseFrame struct {
	Event string
	Data  string
}

// scanSSE reads Server-Sent Events frames from r, calling fn for each
// complete frame until EOF or until fn returns false (its early-return
// signal, e.g. on cancellation). It never buffers more than one frame at a time, so it
// stays correct across arbitrarily chunked TCP reads — the bufio.Scanner
// underneath already re-assembles partial lines.
func scanSSE(r io.Reader, fn func(sseFrame) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cur sseFrame
	var data []string
	flush := func() bool {
		if len(data) == 0 && cur.Event == "" {
			return true
		}
		cur.Data = strings.Join(data, "\n")
		cont := fn(cur)
		cur = sseFrame{}
		data = data[:0]
		return cont
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment / keepalive, ignored
		default:
			// ignore id:/retry: and anything else
		}
	}
	if len(data) > 0 || cur.Event != "" {
		flush()
	}
	return scanner.Err()
}

package streamproc

import (
	"encoding/json"
	"strings"

	"github.com/opencode-ai/core/pkg/types"
)

// xmlState is the tokenizer's position relative to tool/param tags.
type xmlState int

const (
	stateText xmlState = iota
	stateToolOpenName
	stateToolBody
	stateParamName
	stateParamValue
)

const toolOpenPrefix = "<tool:"

// xmlTokenizer is a streaming, buffer-discipline tokenizer for the XML
// tool syntax. feed() may be called with arbitrarily split chunks of
// one logical text stream; the emitted fragment sequence
// is identical to feeding the whole concatenation in one call.
type xmlTokenizer struct {
	p     *Processor
	state xmlState
	buf   string

	toolName   string
	toolID     string
	paramKey   string
	paramValue strings.Builder
	params     map[string]string
	paramOrder []string
}

func newXMLTokenizer(p *Processor) *xmlTokenizer {
	return &xmlTokenizer{p: p, state: stateText}
}

func (t *xmlTokenizer) feed(chunk string) {
	t.buf += chunk
	for t.step() {
	}
}

// step consumes as much of t.buf as is currently decidable, returning
// true if it made progress and should be called again (a complete
// delimiter was found), false once only an ambiguous/empty tail remains.
func (t *xmlTokenizer) step() bool {
	switch t.state {
	case stateText:
		return t.stepText()
	case stateToolOpenName:
		return t.stepToolOpenName()
	case stateToolBody:
		return t.stepToolBody()
	case stateParamName:
		return t.stepParamName()
	case stateParamValue:
		return t.stepParamValue()
	}
	return false
}

func (t *xmlTokenizer) stepText() bool {
	idx := strings.Index(t.buf, toolOpenPrefix)
	if idx >= 0 {
		t.emitPlain(t.buf[:idx])
		t.buf = t.buf[idx+len(toolOpenPrefix):]
		t.state = stateToolOpenName
		return true
	}
	overlap := suffixPrefixOverlap(t.buf, toolOpenPrefix)
	safe := len(t.buf) - overlap
	if safe > 0 {
		t.emitPlain(t.buf[:safe])
		t.buf = t.buf[safe:]
	}
	return false
}

func (t *xmlTokenizer) emitPlain(s string) {
	if s == "" || t.p.toolDone {
		return
	}
	t.p.emit(types.DisplayFragment{Kind: types.FragmentPlainText, Text: s})
}

func (t *xmlTokenizer) stepToolOpenName() bool {
	idx := strings.IndexByte(t.buf, '>')
	if idx < 0 {
		return false
	}
	t.toolName = t.buf[:idx]
	t.buf = t.buf[idx+1:]
	t.params = make(map[string]string)
	t.paramOrder = nil
	if t.p.toolDone {
		t.state = stateToolBody
		return true
	}
	t.toolID = t.p.nextToolID()
	t.p.emit(types.DisplayFragment{Kind: types.FragmentToolName, ToolID: t.toolID, ToolName: t.toolName})
	t.state = stateToolBody
	return true
}

func (t *xmlTokenizer) closeTag() string {
	return "</tool:" + t.toolName + ">"
}

func (t *xmlTokenizer) stepToolBody() bool {
	close := t.closeTag()
	paramIdx := strings.Index(t.buf, "<param:")
	closeIdx := strings.Index(t.buf, close)

	switch {
	case paramIdx >= 0 && (closeIdx < 0 || paramIdx < closeIdx):
		// discard stray body text before the param tag (spec: only
		// param values and plain text outside tool regions carry
		// meaning; inter-tag whitespace inside a tool does not).
		t.buf = t.buf[paramIdx+len("<param:"):]
		t.state = stateParamName
		return true
	case closeIdx >= 0:
		t.buf = t.buf[closeIdx+len(close):]
		t.finishTool()
		t.state = stateText
		return true
	}

	overlap := maxSuffixPrefixOverlap(t.buf, "<param:", close)
	t.buf = t.buf[len(t.buf)-overlap:]
	return false
}

func (t *xmlTokenizer) stepParamName() bool {
	idx := strings.IndexByte(t.buf, '>')
	if idx < 0 {
		return false
	}
	t.paramKey = t.buf[:idx]
	t.buf = t.buf[idx+1:]
	t.paramValue.Reset()
	t.state = stateParamValue
	return true
}

func (t *xmlTokenizer) stepParamValue() bool {
	close := "</param:" + t.paramKey + ">"
	idx := strings.Index(t.buf, close)
	if idx >= 0 {
		t.emitParamChunk(t.buf[:idx])
		t.buf = t.buf[idx+len(close):]
		t.finishParam()
		t.state = stateToolBody
		return true
	}
	overlap := suffixPrefixOverlap(t.buf, close)
	safe := len(t.buf) - overlap
	if safe > 0 {
		t.emitParamChunk(t.buf[:safe])
		t.buf = t.buf[safe:]
	}
	return false
}

func (t *xmlTokenizer) emitParamChunk(s string) {
	t.paramValue.WriteString(s)
	if s == "" || t.p.toolDone {
		return
	}
	t.p.emit(types.DisplayFragment{
		Kind: types.FragmentToolParameter, ToolID: t.toolID, ToolName: t.toolName,
		ParamKey: t.paramKey, Chunk: s,
	})
}

func (t *xmlTokenizer) finishParam() {
	if _, seen := t.params[t.paramKey]; !seen {
		t.paramOrder = append(t.paramOrder, t.paramKey)
	}
	t.params[t.paramKey] = t.paramValue.String() // later duplicate overrides earlier
}

func (t *xmlTokenizer) finishTool() {
	if t.p.toolDone {
		return
	}
	t.p.emit(types.DisplayFragment{Kind: types.FragmentToolEnd, ToolID: t.toolID, ToolName: t.toolName})
	t.p.toolDone = true

	if t.p.onToolRequest != nil {
		input := make(map[string]string, len(t.params))
		for k, v := range t.params {
			input[k] = v
		}
		raw, _ := json.Marshal(input)
		t.p.onToolRequest(types.ToolRequest{ID: t.toolID, Name: t.toolName, InputJSON: raw})
	}
}

// suffixPrefixOverlap returns the length of the longest suffix of s that
// is also a prefix of target (0 if s is empty or no such suffix exists
// other than the trivial empty one, and capped so it never reports a
// suffix longer than target itself).
func suffixPrefixOverlap(s, target string) int {
	max := len(s)
	if len(target) < max {
		max = len(target)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(s, target[:l]) {
			return l
		}
	}
	return 0
}

// maxSuffixPrefixOverlap is suffixPrefixOverlap maximized over several
// candidate targets, used when more than one delimiter is being awaited.
func maxSuffixPrefixOverlap(s string, targets ...string) int {
	best := 0
	for _, target := range targets {
		if o := suffixPrefixOverlap(s, target); o > best {
			best = o
		}
	}
	return best
}

package streamproc

import (
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/core/pkg/types"
)

// Mode selects which tool-call syntax the processor recognizes.
type Mode int

const (
	ModeNative Mode = iota
	ModeXML
)

// Processor is a stateful, per-request fragment emitter. It is not safe
// for concurrent use; one Processor serves exactly one provider call.
type Processor struct {
	mode      Mode
	requestID string

	emit          func(types.DisplayFragment)
	onToolRequest func(types.ToolRequest)

	toolCounter int
	toolDone    bool // XML one-tool-per-turn: true once a tool has completed

	xml *xmlTokenizer
}

// New creates a Processor. emit is called for every DisplayFragment in
// emission order; onToolRequest is called once per fully parsed tool
// call (native: on block completion, XML: on close tag).
func New(mode Mode, requestID string, emit func(types.DisplayFragment), onToolRequest func(types.ToolRequest)) *Processor {
	p := &Processor{
		mode:          mode,
		requestID:     requestID,
		emit:          emit,
		onToolRequest: onToolRequest,
	}
	if mode == ModeXML {
		p.xml = newXMLTokenizer(p)
	}
	return p
}

// nextToolID mints the deterministic per-response id:
// "tool-" + requestID + "-" + (index+1).
func (p *Processor) nextToolID() string {
	p.toolCounter++
	return fmt.Sprintf("tool-%s-%d", p.requestID, p.toolCounter)
}

// ProcessText feeds a text delta. In XML mode this is tokenized for tool
// syntax; in native mode it is forwarded as PlainText verbatim.
func (p *Processor) ProcessText(delta string) {
	if delta == "" {
		return
	}
	switch p.mode {
	case ModeXML:
		if p.toolDone {
			return
		}
		p.xml.feed(delta)
	default:
		p.emit(types.DisplayFragment{Kind: types.FragmentPlainText, Text: delta})
	}
}

// ProcessThinking feeds a reasoning-text delta (native mode only; XML
// providers carry no separate thinking channel).
func (p *Processor) ProcessThinking(delta string) {
	if delta == "" {
		return
	}
	p.emit(types.DisplayFragment{Kind: types.FragmentThinkingText, Text: delta})
}

// ProcessImage emits a complete image fragment.
func (p *Processor) ProcessImage(mediaType, base64Data string) {
	p.emit(types.DisplayFragment{Kind: types.FragmentImage, MediaType: mediaType, Base64Data: base64Data})
}

// ProcessToolUse handles a finished native tool-use block: id is the
// provider-supplied id when one exists, or "" to request a synthesized
// one. inputJSON must already be the fully accumulated, parseable JSON
// object for the call. Unlike XML mode, native mode carries no
// one-tool-per-turn truncation: every structured tool-use block in the
// response is forwarded in source order.
func (p *Processor) ProcessToolUse(id, name string, inputJSON json.RawMessage) {
	if p.mode != ModeNative {
		return
	}
	if id == "" {
		id = p.nextToolID()
	}
	p.emit(types.DisplayFragment{Kind: types.FragmentToolName, ToolID: id, ToolName: name})

	var params map[string]json.RawMessage
	_ = json.Unmarshal(inputJSON, &params)
	for key, raw := range params {
		p.emit(types.DisplayFragment{
			Kind: types.FragmentToolParameter, ToolID: id, ToolName: name,
			ParamKey: key, Chunk: rawParamText(raw),
		})
	}
	p.emit(types.DisplayFragment{Kind: types.FragmentToolEnd, ToolID: id, ToolName: name})

	if p.onToolRequest != nil {
		p.onToolRequest(types.ToolRequest{ID: id, Name: name, InputJSON: inputJSON})
	}
}

// ProcessToolOutput relays a streamed chunk of a running tool's own
// output while the tool is still running.
func (p *Processor) ProcessToolOutput(toolID, chunk string) {
	p.emit(types.DisplayFragment{Kind: types.FragmentToolOutput, ToolID: toolID, Chunk: chunk})
}

// rawParamText renders a JSON scalar/array/object as the flat text a
// DisplayFragment parameter carries; strings are unquoted.
func rawParamText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

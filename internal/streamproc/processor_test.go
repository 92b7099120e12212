package streamproc

import (
	"encoding/json"
	"testing"

	"github.com/opencode-ai/core/pkg/types"
)

func collect(mode Mode, requestID string) (*Processor, *[]types.DisplayFragment, *[]types.ToolRequest) {
	var frags []types.DisplayFragment
	var reqs []types.ToolRequest
	p := New(mode, requestID, func(f types.DisplayFragment) {
		frags = append(frags, f)
	}, func(r types.ToolRequest) {
		reqs = append(reqs, r)
	})
	return p, &frags, &reqs
}

// XML tool with the close tag split across chunk boundaries.
func TestXMLChunkSplitCloseTag(t *testing.T) {
	p, frags, reqs := collect(ModeXML, "r1")
	chunks := []string{
		"Hi\n\n<tool:read_files>",
		"<param:project>app</param:project>",
		"<param:path>a.rs</param:path>",
		"</tool:rea",
		"d_files>\nextra",
	}
	for _, c := range chunks {
		p.ProcessText(c)
	}

	f := *frags
	if len(f) != 5 {
		t.Fatalf("expected 5 fragments, got %d: %+v", len(f), f)
	}
	if f[0].Kind != types.FragmentPlainText || f[0].Text != "Hi\n\n" {
		t.Errorf("fragment 0 = %+v", f[0])
	}
	if f[1].Kind != types.FragmentToolName || f[1].ToolName != "read_files" {
		t.Errorf("fragment 1 = %+v", f[1])
	}
	if f[2].Kind != types.FragmentToolParameter || f[2].ParamKey != "project" || f[2].Chunk != "app" {
		t.Errorf("fragment 2 = %+v", f[2])
	}
	if f[3].Kind != types.FragmentToolParameter || f[3].ParamKey != "path" || f[3].Chunk != "a.rs" {
		t.Errorf("fragment 3 = %+v", f[3])
	}
	if f[4].Kind != types.FragmentToolEnd {
		t.Errorf("fragment 4 = %+v", f[4])
	}

	if len(*reqs) != 1 {
		t.Fatalf("expected 1 tool request, got %d", len(*reqs))
	}
	r := (*reqs)[0]
	if r.Name != "read_files" {
		t.Errorf("tool name = %q", r.Name)
	}
	var input map[string]string
	if err := json.Unmarshal(r.InputJSON, &input); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if input["project"] != "app" || input["path"] != "a.rs" {
		t.Errorf("input = %+v", input)
	}
}

// Determinism: splitting the same text at every possible boundary must
// produce the same fragment sequence as feeding it whole.
func TestXMLParserDeterminism(t *testing.T) {
	text := "before <tool:write_file><param:path>x.go</param:path><param:content>package main\n</param:content></tool:write_file> after"

	whole, wfrags, wreqs := collect(ModeXML, "r1")
	whole.ProcessText(text)

	for split := 1; split < len(text); split++ {
		p, frags, reqs := collect(ModeXML, "r1")
		p.ProcessText(text[:split])
		p.ProcessText(text[split:])

		if len(*frags) != len(*wfrags) {
			t.Fatalf("split %d: fragment count %d != whole %d", split, len(*frags), len(*wfrags))
		}
		for i := range *frags {
			if (*frags)[i] != (*wfrags)[i] {
				t.Fatalf("split %d: fragment %d = %+v, want %+v", split, i, (*frags)[i], (*wfrags)[i])
			}
		}
		if len(*reqs) != len(*wreqs) {
			t.Fatalf("split %d: request count mismatch", split)
		}
	}
}

func TestXMLOneToolPerTurnTruncation(t *testing.T) {
	p, frags, reqs := collect(ModeXML, "r1")
	p.ProcessText("<tool:a><param:k>v</param:k></tool:a>")
	p.ProcessText("<tool:b><param:k>v2</param:k></tool:b>")

	if len(*reqs) != 1 || (*reqs)[0].Name != "a" {
		t.Fatalf("expected only the first tool request, got %+v", *reqs)
	}
	for _, f := range *frags {
		if f.ToolName == "b" {
			t.Fatalf("unexpected fragment for second tool: %+v", f)
		}
	}
}

func TestXMLDuplicateParamLaterOverrides(t *testing.T) {
	_, _, reqs := func() (*Processor, *[]types.DisplayFragment, *[]types.ToolRequest) {
		p, f, r := collect(ModeXML, "r1")
		p.ProcessText("<tool:x><param:k>first</param:k><param:k>second</param:k></tool:x>")
		return p, f, r
	}()
	var input map[string]string
	if err := json.Unmarshal((*reqs)[0].InputJSON, &input); err != nil {
		t.Fatal(err)
	}
	if input["k"] != "second" {
		t.Errorf("expected later duplicate to win, got %q", input["k"])
	}
}

func TestNativeToolUse(t *testing.T) {
	p, frags, reqs := collect(ModeNative, "r1")
	p.ProcessText("Done.")
	p.ProcessToolUse("t1", "list_files", json.RawMessage(`{"project":"p"}`))

	f := *frags
	if f[0].Kind != types.FragmentPlainText || f[0].Text != "Done." {
		t.Errorf("fragment 0 = %+v", f[0])
	}
	foundName, foundEnd := false, false
	for _, fr := range f[1:] {
		if fr.Kind == types.FragmentToolName && fr.ToolID == "t1" && fr.ToolName == "list_files" {
			foundName = true
		}
		if fr.Kind == types.FragmentToolEnd && fr.ToolID == "t1" {
			foundEnd = true
		}
	}
	if !foundName || !foundEnd {
		t.Fatalf("missing tool fragments: %+v", f)
	}
	if len(*reqs) != 1 || (*reqs)[0].ID != "t1" {
		t.Fatalf("unexpected tool requests: %+v", *reqs)
	}
}

func TestNativeMultipleToolUses(t *testing.T) {
	p, _, reqs := collect(ModeNative, "r1")
	p.ProcessToolUse("t1", "read_files", json.RawMessage(`{"path":"a.go"}`))
	p.ProcessToolUse("t2", "list_files", json.RawMessage(`{"project":"p"}`))

	r := *reqs
	if len(r) != 2 {
		t.Fatalf("expected both native tool requests, got %+v", r)
	}
	if r[0].ID != "t1" || r[1].ID != "t2" {
		t.Errorf("requests out of order: %+v", r)
	}
}

func TestPlainTextOutsideToolRegion(t *testing.T) {
	p, frags, _ := collect(ModeXML, "r1")
	p.ProcessText("a <tool:x><param:k>v</param:k></tool:x> b")
	var text string
	for _, f := range *frags {
		if f.Kind == types.FragmentPlainText {
			text += f.Text
		}
	}
	if text != "a " {
		t.Errorf("plain text = %q, want %q (trailing text after the one completed tool is truncated)", text, "a ")
	}
}
